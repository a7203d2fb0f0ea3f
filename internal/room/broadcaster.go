package room

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/signal"
)

type CreateBroadcasterRequest struct {
	ID              string                 `json:"id"`
	DisplayName     string                 `json:"displayName"`
	Device          *DeviceInfo            `json:"device,omitempty"`
	RTPCapabilities *media.RTPCapabilities `json:"rtpCapabilities,omitempty"`
}

type BroadcasterProducerInfo struct {
	ID   string     `json:"id"`
	Kind media.Kind `json:"kind"`
}

type BroadcasterPeerInfo struct {
	PeerInfo
	Producers []BroadcasterProducerInfo `json:"producers"`
}

type CreateBroadcasterResponse struct {
	Peers []BroadcasterPeerInfo `json:"peers"`
}

// CreateBroadcaster registers a non-interactive participant, announces it to
// the joined peers and returns the current inventory of peers and producers
// the broadcaster could consume given its declared capabilities.
func (r *Room) CreateBroadcaster(req CreateBroadcasterRequest) (*CreateBroadcasterResponse, error) {
	if r.closed.Load() {
		return nil, ErrRoomClosed
	}
	if req.ID == "" {
		return nil, signal.NewError(signal.CodeBadRequest, "broadcaster id missing")
	}

	b := newBroadcaster(req.ID, req.DisplayName, req.Device, req.RTPCapabilities)

	r.mu.Lock()
	if _, exists := r.broadcasters[req.ID]; exists {
		r.mu.Unlock()
		return nil, signal.NewError(signal.CodeBadRequest, "broadcaster with id %q already exists", req.ID)
	}
	r.broadcasters[req.ID] = b
	r.mu.Unlock()

	log.Info().Str("module", "room").Str("broadcaster", req.ID).Msg("broadcaster created")

	info := b.Info()
	for _, peer := range r.joinedPeers() {
		peer.conn.Notify("newPeer", info)
	}

	resp := &CreateBroadcasterResponse{Peers: []BroadcasterPeerInfo{}}
	for _, peer := range r.joinedPeers() {
		entry := BroadcasterPeerInfo{PeerInfo: peer.Info(), Producers: []BroadcasterProducerInfo{}}
		for _, producer := range peer.producersSnapshot() {
			if req.RTPCapabilities == nil || !r.router.CanConsume(producer.ID(), *req.RTPCapabilities) {
				continue
			}
			entry.Producers = append(entry.Producers, BroadcasterProducerInfo{
				ID:   producer.ID(),
				Kind: producer.Kind(),
			})
		}
		resp.Peers = append(resp.Peers, entry)
	}
	return resp, nil
}

// DeleteBroadcaster cascades the broadcaster's resources closed and notifies
// the joined peers.
func (r *Room) DeleteBroadcaster(broadcasterID string) error {
	r.mu.Lock()
	b, ok := r.broadcasters[broadcasterID]
	if ok {
		delete(r.broadcasters, broadcasterID)
	}
	r.mu.Unlock()
	if !ok {
		return errBroadcasterNotFound(broadcasterID)
	}

	b.closeTransports()

	for _, peer := range r.joinedPeers() {
		peer.conn.Notify("peerClosed", H{"peerId": broadcasterID})
	}
	log.Info().Str("module", "room").Str("broadcaster", broadcasterID).Msg("broadcaster deleted")
	return nil
}

func (r *Room) getBroadcaster(id string) (*Broadcaster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.broadcasters[id]
	if !ok {
		return nil, errBroadcasterNotFound(id)
	}
	return b, nil
}

type CreateBroadcasterTransportRequest struct {
	Type             string                  `json:"type"`
	RTCPMux          *bool                   `json:"rtcpMux,omitempty"`
	Comedia          bool                    `json:"comedia,omitempty"`
	SCTPCapabilities *media.SCTPCapabilities `json:"sctpCapabilities,omitempty"`
}

// CreateBroadcasterTransport attaches a webrtc or plain transport to the
// broadcaster and returns its connection parameters.
func (r *Room) CreateBroadcasterTransport(broadcasterID string, req CreateBroadcasterTransportRequest) (*media.TransportInfo, error) {
	b, err := r.getBroadcaster(broadcasterID)
	if err != nil {
		return nil, err
	}

	var transport media.Transport
	switch req.Type {
	case "webrtc":
		opts := media.WebRTCTransportOptions{
			EnableUDP:  true,
			EnableTCP:  true,
			PreferUDP:  true,
			EnableSCTP: req.SCTPCapabilities != nil,
			AppData:    media.H{"broadcasterId": broadcasterID, "consuming": true},
		}
		if req.SCTPCapabilities != nil {
			numStreams := req.SCTPCapabilities.NumStreams
			opts.NumSCTPStreams = &numStreams
		}
		transport, err = r.router.CreateWebRTCTransport(opts)
	case "plain":
		rtcpMux := false
		if req.RTCPMux != nil {
			rtcpMux = *req.RTCPMux
		}
		transport, err = r.router.CreatePlainTransport(media.PlainTransportOptions{
			RTCPMux: rtcpMux,
			Comedia: req.Comedia,
			AppData: media.H{"broadcasterId": broadcasterID},
		})
	default:
		return nil, signal.NewError(signal.CodeBadRequest, "invalid transport type %q", req.Type)
	}
	if err != nil {
		return nil, err
	}

	transport.OnClose(func() {
		b.deleteTransport(transport.ID())
	})
	b.addTransport(transport)

	info := transport.Info()
	return &info, nil
}

func (r *Room) ConnectBroadcasterTransport(broadcasterID, transportID string, dtlsParameters *webrtc.DTLSParameters) error {
	b, err := r.getBroadcaster(broadcasterID)
	if err != nil {
		return err
	}
	transport := b.getTransport(transportID)
	if transport == nil {
		return errTransportNotFound(transportID)
	}
	return transport.Connect(media.TransportConnectOptions{DTLSParameters: dtlsParameters})
}

// CreateBroadcasterProducer publishes a stream on behalf of the broadcaster
// and runs the consumer negotiation toward every joined peer.
func (r *Room) CreateBroadcasterProducer(broadcasterID, transportID string, kind media.Kind, rtpParameters media.RTPParameters) (string, error) {
	b, err := r.getBroadcaster(broadcasterID)
	if err != nil {
		return "", err
	}
	transport := b.getTransport(transportID)
	if transport == nil {
		return "", errTransportNotFound(transportID)
	}

	producer, err := transport.Produce(media.ProducerOptions{
		Kind:          kind,
		RTPParameters: rtpParameters,
		AppData:       media.H{"peerId": broadcasterID},
	})
	if err != nil {
		return "", err
	}
	b.addProducer(producer)
	producer.OnVideoOrientationChange(func(orientation media.VideoOrientation) {
		log.Debug().Str("module", "room").Str("producer", producer.ID()).
			Bool("camera", orientation.Camera).Int("rotation", orientation.Rotation).
			Msg("broadcaster producer video orientation change")
	})
	producer.OnClose(func() {
		b.deleteProducer(producer.ID())
		if producer.Kind() == media.KindAudio {
			r.unobserveAudioProducer(producer.ID())
		}
	})

	for _, peer := range r.joinedPeers() {
		r.createConsumer(peer, broadcasterID, producer)
	}

	if producer.Kind() == media.KindAudio {
		r.observeAudioProducer(producer)
	}
	return producer.ID(), nil
}

type BroadcasterConsumerInfo struct {
	ID            string              `json:"id"`
	ProducerID    string              `json:"producerId"`
	Kind          media.Kind          `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
	Type          string              `json:"type"`
}

// CreateBroadcasterConsumer subscribes the broadcaster to a producer. No
// pause/ack dance here: the caller drives the transport imperatively.
func (r *Room) CreateBroadcasterConsumer(broadcasterID, transportID, producerID string) (*BroadcasterConsumerInfo, error) {
	b, err := r.getBroadcaster(broadcasterID)
	if err != nil {
		return nil, err
	}
	caps := b.RTPCapabilities()
	if caps == nil {
		return nil, signal.NewError(signal.CodeBadRequest, "broadcaster did not declare rtpCapabilities")
	}
	transport := b.getTransport(transportID)
	if transport == nil {
		return nil, errTransportNotFound(transportID)
	}

	consumer, err := transport.Consume(media.ConsumerOptions{
		ProducerID:      producerID,
		RTPCapabilities: *caps,
	})
	if err != nil {
		return nil, err
	}
	b.addConsumer(consumer)
	consumer.OnClose(func() {
		b.deleteConsumer(consumer.ID())
	})

	return &BroadcasterConsumerInfo{
		ID:            consumer.ID(),
		ProducerID:    producerID,
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
		Type:          consumer.Type(),
	}, nil
}

type BroadcasterDataConsumerInfo struct {
	ID                   string                      `json:"id"`
	DataProducerID       string                      `json:"dataProducerId"`
	Label                string                      `json:"label"`
	Protocol             string                      `json:"protocol"`
	SCTPStreamParameters *media.SCTPStreamParameters `json:"sctpStreamParameters,omitempty"`
}

func (r *Room) CreateBroadcasterDataConsumer(broadcasterID, transportID, dataProducerID string) (*BroadcasterDataConsumerInfo, error) {
	b, err := r.getBroadcaster(broadcasterID)
	if err != nil {
		return nil, err
	}
	transport := b.getTransport(transportID)
	if transport == nil {
		return nil, errTransportNotFound(transportID)
	}

	dataConsumer, err := transport.ConsumeData(media.DataConsumerOptions{
		DataProducerID: dataProducerID,
	})
	if err != nil {
		return nil, err
	}
	b.addDataConsumer(dataConsumer)
	dataConsumer.OnClose(func() {
		b.deleteDataConsumer(dataConsumer.ID())
	})

	return &BroadcasterDataConsumerInfo{
		ID:                   dataConsumer.ID(),
		DataProducerID:       dataProducerID,
		Label:                dataConsumer.Label(),
		Protocol:             dataConsumer.Protocol(),
		SCTPStreamParameters: dataConsumer.SCTPStreamParameters(),
	}, nil
}

type CreateBroadcasterDataProducerRequest struct {
	Label                string                      `json:"label"`
	Protocol             string                      `json:"protocol"`
	SCTPStreamParameters *media.SCTPStreamParameters `json:"sctpStreamParameters,omitempty"`
	AppData              media.H                     `json:"appData,omitempty"`
}

func (r *Room) CreateBroadcasterDataProducer(broadcasterID, transportID string, req CreateBroadcasterDataProducerRequest) (string, error) {
	b, err := r.getBroadcaster(broadcasterID)
	if err != nil {
		return "", err
	}
	transport := b.getTransport(transportID)
	if transport == nil {
		return "", errTransportNotFound(transportID)
	}

	dataProducer, err := transport.ProduceData(media.DataProducerOptions{
		SCTPStreamParameters: req.SCTPStreamParameters,
		Label:                req.Label,
		Protocol:             req.Protocol,
		AppData:              req.AppData,
	})
	if err != nil {
		return "", err
	}
	b.addDataProducer(dataProducer)
	dataProducer.OnClose(func() {
		b.deleteDataProducer(dataProducer.ID())
	})
	return dataProducer.ID(), nil
}
