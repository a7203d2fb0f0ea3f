package room

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/media"
)

// Bot is the echo endpoint: a direct transport with one data producer. Every
// text message a peer sends on its bot channel comes back through the bot's
// producer, prefixed with the sender's display name, and fans out to every
// peer consuming it.
type Bot struct {
	transport    media.Transport
	dataProducer media.DataProducer
}

func NewBot(router media.Router) (*Bot, error) {
	transport, err := router.CreateDirectTransport(media.DirectTransportOptions{
		MaxMessageSize: 512,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "room.bot").Msg("create direct transport")
		return nil, err
	}

	dataProducer, err := transport.ProduceData(media.DataProducerOptions{
		Label: "bot",
	})
	if err != nil {
		log.Error().Err(err).Str("module", "room.bot").Msg("create data producer")
		transport.Close()
		return nil, err
	}

	return &Bot{transport: transport, dataProducer: dataProducer}, nil
}

func (b *Bot) DataProducer() media.DataProducer { return b.dataProducer }

// HandlePeerDataProducer consumes the peer's bot channel privately and echoes
// every message back through the bot's own producer.
func (b *Bot) HandlePeerDataProducer(dataProducerID string, peer *Peer) error {
	dataConsumer, err := b.transport.ConsumeData(media.DataConsumerOptions{
		DataProducerID: dataProducerID,
	})
	if err != nil {
		return err
	}

	dataConsumer.OnMessage(func(payload []byte) {
		text := string(payload)
		log.Debug().Str("module", "room.bot").Str("peer", peer.ID()).Str("text", text).Msg("message received")

		echo := fmt.Sprintf("%s said me: \"%s\"", peer.DisplayName(), text)
		if err := b.dataProducer.Send([]byte(echo)); err != nil {
			log.Warn().Err(err).Str("module", "room.bot").Msg("echo send failed")
		}
	})
	return nil
}

func (b *Bot) Close() {
	b.transport.Close()
}
