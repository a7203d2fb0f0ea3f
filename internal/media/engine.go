package media

import "encoding/json"

// Worker is one media engine process handle. Workers are created at startup
// and handed out by the Pool.
type Worker interface {
	CreateRouter(opts RouterOptions) (Router, error)
	Closed() bool
	Close()
}

// Router groups the transports of one session and answers capability queries.
type Router interface {
	ID() string
	RTPCapabilities() RTPCapabilities

	CreateWebRTCTransport(opts WebRTCTransportOptions) (Transport, error)
	CreatePlainTransport(opts PlainTransportOptions) (Transport, error)
	CreateDirectTransport(opts DirectTransportOptions) (Transport, error)

	CreateAudioLevelObserver(opts AudioLevelObserverOptions) (AudioLevelObserver, error)
	CreateActiveSpeakerObserver(opts ActiveSpeakerObserverOptions) (ActiveSpeakerObserver, error)

	// CanConsume reports whether the given capability set is compatible with
	// the producer, i.e. whether a consumer may be created for it.
	CanConsume(producerID string, caps RTPCapabilities) bool

	Closed() bool
	Close()
}

type Transport interface {
	ID() string
	AppData() H
	Info() TransportInfo

	Connect(opts TransportConnectOptions) error
	RestartICE() (*ICERestartInfo, error)
	SetMaxIncomingBitrate(bitrate int) error

	Produce(opts ProducerOptions) (Producer, error)
	Consume(opts ConsumerOptions) (Consumer, error)
	ProduceData(opts DataProducerOptions) (DataProducer, error)
	ConsumeData(opts DataConsumerOptions) (DataConsumer, error)

	EnableTraceEvent(types ...TraceEventType) error
	GetStats() (json.RawMessage, error)

	OnTrace(fn func(TraceEvent))
	OnDTLSStateChange(fn func(state string))
	OnSCTPStateChange(fn func(state string))
	OnClose(fn func())

	Closed() bool
	Close()
}

// ICERestartInfo is the fresh ICE parameter set produced by an ICE restart.
type ICERestartInfo struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type Producer interface {
	ID() string
	Kind() Kind
	RTPParameters() RTPParameters
	AppData() H
	Paused() bool

	Pause() error
	Resume() error
	GetStats() (json.RawMessage, error)

	OnScore(fn func([]ProducerScore))
	OnVideoOrientationChange(fn func(VideoOrientation))
	OnClose(fn func())

	Closed() bool
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	Type() string
	RTPParameters() RTPParameters
	AppData() H
	Paused() bool
	ProducerPaused() bool
	Score() ConsumerScore

	Pause() error
	Resume() error
	SetPreferredLayers(layers ConsumerLayers) error
	SetPriority(priority uint8) error
	RequestKeyFrame() error
	GetStats() (json.RawMessage, error)

	OnClose(fn func())
	OnProducerClose(fn func())
	OnProducerPause(fn func())
	OnProducerResume(fn func())
	OnScore(fn func(ConsumerScore))
	OnLayersChange(fn func(*ConsumerLayers))

	Closed() bool
	Close()
}

type DataProducer interface {
	ID() string
	Label() string
	Protocol() string
	SCTPStreamParameters() *SCTPStreamParameters
	AppData() H

	// Send injects a message into the stream. Only supported on direct
	// transports; used by the bot endpoint.
	Send(payload []byte) error
	GetStats() (json.RawMessage, error)

	OnClose(fn func())

	Closed() bool
	Close()
}

type DataConsumer interface {
	ID() string
	DataProducerID() string
	Label() string
	Protocol() string
	SCTPStreamParameters() *SCTPStreamParameters
	AppData() H

	GetStats() (json.RawMessage, error)

	// OnMessage delivers stream payloads. Only fires on direct transports.
	OnMessage(fn func(payload []byte))
	OnClose(fn func())

	Closed() bool
	Close()
}

// AudioLevelObserver periodically reports the loudest registered producers
// above a volume threshold, or silence when none qualifies.
type AudioLevelObserver interface {
	AddProducer(producerID string) error
	RemoveProducer(producerID string) error
	OnVolumes(fn func([]AudioLevelVolume))
	OnSilence(fn func())
	Close()
}

// ActiveSpeakerObserver reports dominant speaker changes.
type ActiveSpeakerObserver interface {
	AddProducer(producerID string) error
	RemoveProducer(producerID string) error
	OnDominantSpeaker(fn func(Producer))
	Close()
}
