package room

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/signal"
)

// handleRequest is the dispatch table for every inbound signaling request.
// Returning an error rejects the request; accept sends the result.
func (r *Room) handleRequest(peer *Peer, m signal.Message, accept func(data any)) error {
	log.Debug().Str("module", "room").Str("method", m.Method).Str("peer", peer.id).Msg("request")

	switch m.Method {
	case "getRouterRtpCapabilities":
		accept(r.RouterRTPCapabilities())
		return nil

	case "join":
		return r.handleJoin(peer, m.Data, accept)

	case "createWebRtcTransport":
		return r.handleCreateWebRTCTransport(peer, m.Data, accept)

	case "connectWebRtcTransport":
		var req struct {
			TransportID    string                 `json:"transportId"`
			DTLSParameters *webrtc.DTLSParameters `json:"dtlsParameters"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		transport := peer.getTransport(req.TransportID)
		if transport == nil {
			return errTransportNotFound(req.TransportID)
		}
		return transport.Connect(media.TransportConnectOptions{DTLSParameters: req.DTLSParameters})

	case "restartIce":
		var req struct {
			TransportID string `json:"transportId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		transport := peer.getTransport(req.TransportID)
		if transport == nil {
			return errTransportNotFound(req.TransportID)
		}
		info, err := transport.RestartICE()
		if err != nil {
			return err
		}
		accept(info)
		return nil

	case "produce":
		return r.handleProduce(peer, m.Data, accept)

	case "closeProducer":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ProducerID string `json:"producerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		producer := peer.getProducer(req.ProducerID)
		if producer == nil {
			return errProducerNotFound(req.ProducerID)
		}
		producer.Close()
		peer.deleteProducer(producer.ID())
		return nil

	case "pauseProducer":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ProducerID string `json:"producerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		producer := peer.getProducer(req.ProducerID)
		if producer == nil {
			return errProducerNotFound(req.ProducerID)
		}
		return producer.Pause()

	case "resumeProducer":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ProducerID string `json:"producerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		producer := peer.getProducer(req.ProducerID)
		if producer == nil {
			return errProducerNotFound(req.ProducerID)
		}
		return producer.Resume()

	case "pauseConsumer":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ConsumerID string `json:"consumerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		consumer := peer.getConsumer(req.ConsumerID)
		if consumer == nil {
			return errConsumerNotFound(req.ConsumerID)
		}
		return consumer.Pause()

	case "resumeConsumer":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ConsumerID string `json:"consumerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		consumer := peer.getConsumer(req.ConsumerID)
		if consumer == nil {
			return errConsumerNotFound(req.ConsumerID)
		}
		return consumer.Resume()

	case "setConsumerPreferredLayers":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ConsumerID    string `json:"consumerId"`
			SpatialLayer  uint8  `json:"spatialLayer"`
			TemporalLayer uint8  `json:"temporalLayer"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		consumer := peer.getConsumer(req.ConsumerID)
		if consumer == nil {
			return errConsumerNotFound(req.ConsumerID)
		}
		return consumer.SetPreferredLayers(media.ConsumerLayers{
			SpatialLayer:  req.SpatialLayer,
			TemporalLayer: req.TemporalLayer,
		})

	case "setConsumerPriority":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ConsumerID string `json:"consumerId"`
			Priority   uint8  `json:"priority"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		consumer := peer.getConsumer(req.ConsumerID)
		if consumer == nil {
			return errConsumerNotFound(req.ConsumerID)
		}
		return consumer.SetPriority(req.Priority)

	case "requestConsumerKeyFrame":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			ConsumerID string `json:"consumerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		consumer := peer.getConsumer(req.ConsumerID)
		if consumer == nil {
			return errConsumerNotFound(req.ConsumerID)
		}
		return consumer.RequestKeyFrame()

	case "produceData":
		return r.handleProduceData(peer, m.Data, accept)

	case "changeDisplayName":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			DisplayName string `json:"displayName"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		old := peer.setDisplayName(req.DisplayName)
		for _, other := range r.joinedPeers(peer) {
			other.conn.Notify("peerDisplayNameChanged", H{
				"peerId":         peer.id,
				"displayName":    req.DisplayName,
				"oldDisplayName": old,
			})
		}
		return nil

	case "getTransportStats":
		if !peer.Joined() {
			return ErrNotJoined
		}
		var req struct {
			TransportID string `json:"transportId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		transport := peer.getTransport(req.TransportID)
		if transport == nil {
			return errTransportNotFound(req.TransportID)
		}
		stats, err := transport.GetStats()
		if err != nil {
			return err
		}
		accept(stats)
		return nil

	case "getProducerStats":
		var req struct {
			ProducerID string `json:"producerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		producer := peer.getProducer(req.ProducerID)
		if producer == nil {
			return errProducerNotFound(req.ProducerID)
		}
		stats, err := producer.GetStats()
		if err != nil {
			return err
		}
		accept(stats)
		return nil

	case "getConsumerStats":
		var req struct {
			ConsumerID string `json:"consumerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		consumer := peer.getConsumer(req.ConsumerID)
		if consumer == nil {
			return errConsumerNotFound(req.ConsumerID)
		}
		stats, err := consumer.GetStats()
		if err != nil {
			return err
		}
		accept(stats)
		return nil

	case "getDataProducerStats":
		var req struct {
			DataProducerID string `json:"dataProducerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		dp := peer.getDataProducer(req.DataProducerID)
		if dp == nil {
			return errDataProducerNotFound(req.DataProducerID)
		}
		stats, err := dp.GetStats()
		if err != nil {
			return err
		}
		accept(stats)
		return nil

	case "getDataConsumerStats":
		var req struct {
			DataConsumerID string `json:"dataConsumerId"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return err
		}
		dc := peer.getDataConsumer(req.DataConsumerID)
		if dc == nil {
			return errDataConsumerNotFound(req.DataConsumerID)
		}
		stats, err := dc.GetStats()
		if err != nil {
			return err
		}
		accept(stats)
		return nil

	case "applyNetworkThrottle":
		return r.handleApplyNetworkThrottle(m.Data)

	case "resetNetworkThrottle":
		return r.handleResetNetworkThrottle(m.Data)

	default:
		return signal.NewError(signal.CodeInternal, "unknown method %q", m.Method)
	}
}

func (r *Room) handleJoin(peer *Peer, data json.RawMessage, accept func(data any)) error {
	var req struct {
		DisplayName      string                  `json:"displayName"`
		Device           *DeviceInfo             `json:"device"`
		RTPCapabilities  *media.RTPCapabilities  `json:"rtpCapabilities"`
		SCTPCapabilities *media.SCTPCapabilities `json:"sctpCapabilities"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if err := peer.setJoined(req.DisplayName, req.Device, req.RTPCapabilities, req.SCTPCapabilities); err != nil {
		return err
	}

	others := r.joinedPeers(peer)
	broadcasters := r.broadcastersSnapshot()

	peerInfos := make([]PeerInfo, 0, len(others)+len(broadcasters))
	for _, other := range others {
		peerInfos = append(peerInfos, other.Info())
	}
	for _, b := range broadcasters {
		peerInfos = append(peerInfos, b.Info())
	}
	accept(H{"peers": peerInfos})

	// Create consumers for everything the existing participants already
	// publish, toward the new peer.
	for _, other := range others {
		for _, producer := range other.producersSnapshot() {
			r.createConsumer(peer, other.id, producer)
		}
		for _, dp := range other.dataProducersSnapshot() {
			r.createDataConsumer(peer, other.id, dp)
		}
	}
	for _, b := range broadcasters {
		for _, producer := range b.producersSnapshot() {
			r.createConsumer(peer, b.id, producer)
		}
		for _, dp := range b.dataProducersSnapshot() {
			r.createDataConsumer(peer, b.id, dp)
		}
	}

	// The bot's channel reaches every peer; it has no source peer identity.
	r.createDataConsumer(peer, "", r.bot.DataProducer())

	info := peer.Info()
	for _, other := range r.joinedPeers(peer) {
		other.conn.Notify("newPeer", info)
	}
	return nil
}

func (r *Room) handleCreateWebRTCTransport(peer *Peer, data json.RawMessage, accept func(data any)) error {
	var req struct {
		ForceTCP         bool                    `json:"forceTcp"`
		Producing        bool                    `json:"producing"`
		Consuming        bool                    `json:"consuming"`
		SCTPCapabilities *media.SCTPCapabilities `json:"sctpCapabilities"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	opts := media.WebRTCTransportOptions{
		EnableUDP:  true,
		EnableTCP:  true,
		PreferUDP:  true,
		EnableSCTP: true,
		AppData: media.H{
			"producing": req.Producing,
			"consuming": req.Consuming,
		},
	}
	if req.SCTPCapabilities != nil {
		numStreams := req.SCTPCapabilities.NumStreams
		opts.NumSCTPStreams = &numStreams
	}
	if req.ForceTCP {
		opts.EnableUDP = false
		opts.EnableTCP = true
	}

	transport, err := r.router.CreateWebRTCTransport(opts)
	if err != nil {
		return err
	}

	transport.OnSCTPStateChange(func(state string) {
		log.Debug().Str("module", "room").Str("transport", transport.ID()).Str("sctpState", state).Msg("sctp state change")
	})
	transport.OnDTLSStateChange(func(state string) {
		if state == "failed" || state == "closed" {
			log.Warn().Str("module", "room").Str("transport", transport.ID()).Str("dtlsState", state).Msg("transport dtls state change")
		}
	})
	transport.OnClose(func() {
		peer.deleteTransport(transport.ID())
	})

	if err := transport.EnableTraceEvent(media.TraceEventBWE); err != nil {
		return err
	}
	transport.OnTrace(func(trace media.TraceEvent) {
		if trace.Type == media.TraceEventBWE && trace.Direction == "out" {
			peer.conn.Notify("downlinkBwe", trace.Info)
		}
	})

	peer.addTransport(transport)

	info := transport.Info()
	accept(H{
		"id":             info.ID,
		"iceParameters":  info.ICEParameters,
		"iceCandidates":  info.ICECandidates,
		"dtlsParameters": info.DTLSParameters,
		"sctpParameters": info.SCTPParameters,
	})

	if r.cfg.MaxIncomingBitrate > 0 {
		if err := transport.SetMaxIncomingBitrate(r.cfg.MaxIncomingBitrate); err != nil {
			log.Warn().Err(err).Str("module", "room").Str("transport", transport.ID()).Msg("set max incoming bitrate")
		}
	}
	return nil
}

func (r *Room) handleProduce(peer *Peer, data json.RawMessage, accept func(data any)) error {
	if !peer.Joined() {
		return ErrNotJoined
	}
	var req struct {
		TransportID   string              `json:"transportId"`
		Kind          media.Kind          `json:"kind"`
		RTPParameters media.RTPParameters `json:"rtpParameters"`
		AppData       media.H             `json:"appData"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	transport := peer.getTransport(req.TransportID)
	if transport == nil {
		return errTransportNotFound(req.TransportID)
	}

	// Tag the producer with its peer so activity events can be attributed.
	appData := req.AppData
	if appData == nil {
		appData = media.H{}
	}
	appData["peerId"] = peer.id

	producer, err := transport.Produce(media.ProducerOptions{
		Kind:          req.Kind,
		RTPParameters: req.RTPParameters,
		AppData:       appData,
	})
	if err != nil {
		return err
	}
	peer.addProducer(producer)
	r.watchProducer(peer, producer)

	accept(H{"id": producer.ID()})

	for _, other := range r.joinedPeers(peer) {
		r.createConsumer(other, peer.id, producer)
	}

	if producer.Kind() == media.KindAudio {
		r.observeAudioProducer(producer)
	}
	return nil
}

// watchProducer wires the lifecycle and score relays of a newly created
// producer owned by peer.
func (r *Room) watchProducer(peer *Peer, producer media.Producer) {
	producer.OnScore(func(scores []media.ProducerScore) {
		peer.conn.Notify("producerScore", H{
			"producerId": producer.ID(),
			"score":      scores,
		})
	})
	producer.OnVideoOrientationChange(func(orientation media.VideoOrientation) {
		log.Debug().Str("module", "room").Str("producer", producer.ID()).
			Bool("camera", orientation.Camera).Int("rotation", orientation.Rotation).
			Msg("producer video orientation change")
	})
	producer.OnClose(func() {
		peer.deleteProducer(producer.ID())
		if producer.Kind() == media.KindAudio {
			r.unobserveAudioProducer(producer.ID())
		}
	})
}

func (r *Room) observeAudioProducer(producer media.Producer) {
	if err := r.audioLevel.AddProducer(producer.ID()); err != nil {
		log.Warn().Err(err).Str("module", "room").Str("producer", producer.ID()).Msg("audio level observer add")
	}
	if err := r.activeSpeaker.AddProducer(producer.ID()); err != nil {
		log.Warn().Err(err).Str("module", "room").Str("producer", producer.ID()).Msg("active speaker observer add")
	}
}

func (r *Room) unobserveAudioProducer(producerID string) {
	if err := r.audioLevel.RemoveProducer(producerID); err != nil {
		log.Debug().Err(err).Str("module", "room").Str("producer", producerID).Msg("audio level observer remove")
	}
	if err := r.activeSpeaker.RemoveProducer(producerID); err != nil {
		log.Debug().Err(err).Str("module", "room").Str("producer", producerID).Msg("active speaker observer remove")
	}
}

func (r *Room) handleProduceData(peer *Peer, data json.RawMessage, accept func(data any)) error {
	if !peer.Joined() {
		return ErrNotJoined
	}
	var req struct {
		TransportID          string                      `json:"transportId"`
		SCTPStreamParameters *media.SCTPStreamParameters `json:"sctpStreamParameters"`
		Label                string                      `json:"label"`
		Protocol             string                      `json:"protocol"`
		AppData              media.H                     `json:"appData"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	transport := peer.getTransport(req.TransportID)
	if transport == nil {
		return errTransportNotFound(req.TransportID)
	}

	dataProducer, err := transport.ProduceData(media.DataProducerOptions{
		SCTPStreamParameters: req.SCTPStreamParameters,
		Label:                req.Label,
		Protocol:             req.Protocol,
		AppData:              req.AppData,
	})
	if err != nil {
		return err
	}
	peer.addDataProducer(dataProducer)
	dataProducer.OnClose(func() {
		peer.deleteDataProducer(dataProducer.ID())
	})

	accept(H{"id": dataProducer.ID()})

	switch dataProducer.Label() {
	case "chat":
		for _, other := range r.joinedPeers(peer) {
			r.createDataConsumer(other, peer.id, dataProducer)
		}
	case "bot":
		if err := r.bot.HandlePeerDataProducer(dataProducer.ID(), peer); err != nil {
			log.Error().Err(err).Str("module", "room").Str("peer", peer.id).Msg("bot data producer attach")
		}
	}
	return nil
}
