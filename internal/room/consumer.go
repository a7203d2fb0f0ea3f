package room

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/metrics"
)

// How long a peer gets to acknowledge a newConsumer/newDataConsumer request
// before the attempt is abandoned.
const ackTimeout = 20 * time.Second

// createConsumer runs the consumer negotiation toward dst for one producer:
// capability gate, paused creation on the consuming transport, a newConsumer
// request awaiting acknowledgment, then resume. With replicas configured,
// 1+replicas independent attempts run concurrently; each succeeds or fails
// on its own.
func (r *Room) createConsumer(dst *Peer, producerPeerID string, producer media.Producer) {
	caps := dst.RTPCapabilities()
	if caps == nil || !r.router.CanConsume(producer.ID(), *caps) {
		return
	}

	transport := dst.consumingTransport()
	if transport == nil {
		// Should not happen with a correctly driven client.
		log.Warn().Str("module", "room").Str("peer", dst.id).Msg("createConsumer: no consuming transport")
		return
	}

	for i := 0; i <= r.replicas; i++ {
		go r.consumeOnce(dst, producerPeerID, producer, transport, *caps)
	}
}

func (r *Room) consumeOnce(dst *Peer, producerPeerID string, producer media.Producer, transport media.Transport, caps media.RTPCapabilities) {
	// The consumer starts paused and is resumed only after dst acknowledges
	// its parameters, so no RTP reaches the endpoint before its local
	// counterpart exists.
	consumer, err := transport.Consume(media.ConsumerOptions{
		ProducerID:      producer.ID(),
		RTPCapabilities: caps,
		Paused:          true,
		EnableRTX:       true,
		IgnoreDTX:       true,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "room").Str("peer", dst.id).Msg("transport.Consume failed")
		return
	}
	metrics.ConsumersCreated.Inc()

	dst.addConsumer(consumer)
	consumer.OnClose(func() {
		dst.deleteConsumer(consumer.ID())
	})
	consumer.OnProducerClose(func() {
		dst.conn.Notify("consumerClosed", H{"consumerId": consumer.ID()})
	})
	consumer.OnProducerPause(func() {
		dst.conn.Notify("consumerPaused", H{"consumerId": consumer.ID()})
	})
	consumer.OnProducerResume(func() {
		dst.conn.Notify("consumerResumed", H{"consumerId": consumer.ID()})
	})
	consumer.OnScore(func(score media.ConsumerScore) {
		dst.conn.Notify("consumerScore", H{
			"consumerId": consumer.ID(),
			"score":      score,
		})
	})
	consumer.OnLayersChange(func(layers *media.ConsumerLayers) {
		data := H{
			"consumerId":    consumer.ID(),
			"spatialLayer":  nil,
			"temporalLayer": nil,
		}
		if layers != nil {
			data["spatialLayer"] = layers.SpatialLayer
			data["temporalLayer"] = layers.TemporalLayer
		}
		dst.conn.Notify("consumerLayersChanged", data)
	})

	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	_, err = dst.conn.Request(ctx, "newConsumer", H{
		"peerId":         producerPeerID,
		"producerId":     producer.ID(),
		"id":             consumer.ID(),
		"kind":           consumer.Kind(),
		"rtpParameters":  consumer.RTPParameters(),
		"type":           consumer.Type(),
		"appData":        producer.AppData(),
		"producerPaused": consumer.ProducerPaused(),
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "room").Str("peer", dst.id).Msg("newConsumer request failed")
		return
	}

	if err := consumer.Resume(); err != nil {
		log.Warn().Err(err).Str("module", "room").Str("consumer", consumer.ID()).Msg("consumer resume failed")
		return
	}

	dst.conn.Notify("consumerScore", H{
		"consumerId": consumer.ID(),
		"score":      consumer.Score(),
	})
}

// createDataConsumer is the data-channel counterpart: no pause/resume dance
// (data channels have no pause concept) and no replica fan-out.
func (r *Room) createDataConsumer(dst *Peer, producerPeerID string, dataProducer media.DataProducer) {
	if dst.SCTPCapabilities() == nil {
		return
	}

	transport := dst.consumingTransport()
	if transport == nil {
		log.Warn().Str("module", "room").Str("peer", dst.id).Msg("createDataConsumer: no consuming transport")
		return
	}

	dataConsumer, err := transport.ConsumeData(media.DataConsumerOptions{
		DataProducerID: dataProducer.ID(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "room").Str("peer", dst.id).Msg("transport.ConsumeData failed")
		return
	}

	dst.addDataConsumer(dataConsumer)
	dataConsumer.OnClose(func() {
		dst.deleteDataConsumer(dataConsumer.ID())
		dst.conn.Notify("dataConsumerClosed", H{"dataConsumerId": dataConsumer.ID()})
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()

		// peerId is null for the bot's data producer.
		var srcID any
		if producerPeerID != "" {
			srcID = producerPeerID
		}
		_, err := dst.conn.Request(ctx, "newDataConsumer", H{
			"peerId":               srcID,
			"dataProducerId":       dataProducer.ID(),
			"id":                   dataConsumer.ID(),
			"sctpStreamParameters": dataConsumer.SCTPStreamParameters(),
			"label":                dataConsumer.Label(),
			"protocol":             dataConsumer.Protocol(),
			"appData":              dataProducer.AppData(),
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "room").Str("peer", dst.id).Msg("newDataConsumer request failed")
		}
	}()
}
