// Package media declares the capability surface of the media engine this
// server orchestrates. The engine itself (RTP forwarding, ICE/DTLS/SRTP,
// congestion control) lives behind these interfaces; the session layer only
// creates resources, queries capabilities and reacts to events.
package media

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// H is the free-form appData tag attached to engine resources.
type H map[string]any

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// RTPCapabilities is the receive capability set a peer declares on join and
// the capability set the router advertises.
type RTPCapabilities struct {
	Codecs           []webrtc.RTPCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []string                    `json:"headerExtensions,omitempty"`
}

type RTPParameters struct {
	MID       string                               `json:"mid,omitempty"`
	Codecs    []webrtc.RTPCodecParameters          `json:"codecs,omitempty"`
	Encodings []webrtc.RTPEncodingParameters       `json:"encodings,omitempty"`
	RTCP      json.RawMessage                      `json:"rtcp,omitempty"`
	Exts      []webrtc.RTPHeaderExtensionParameter `json:"headerExtensions,omitempty"`
}

type SCTPStreamParameters struct {
	StreamID          uint16 `json:"streamId"`
	Ordered           *bool  `json:"ordered,omitempty"`
	MaxPacketLifeTime uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    uint16 `json:"maxRetransmits,omitempty"`
}

type SCTPParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

type NumSCTPStreams struct {
	OS  uint16 `json:"OS"`
	MIS uint16 `json:"MIS"`
}

// SCTPCapabilities is the data-channel capability set a peer declares.
type SCTPCapabilities struct {
	NumStreams NumSCTPStreams `json:"numStreams"`
}

// TransportInfo carries the connection parameters a client needs to complete
// transport setup. WebRTC transports fill the ICE/DTLS/SCTP fields, plain
// transports the address tuple.
type TransportInfo struct {
	ID             string                    `json:"id"`
	ICEParameters  *webrtc.ICEParameters     `json:"iceParameters,omitempty"`
	ICECandidates  []webrtc.ICECandidateInit `json:"iceCandidates,omitempty"`
	DTLSParameters *webrtc.DTLSParameters    `json:"dtlsParameters,omitempty"`
	SCTPParameters *SCTPParameters           `json:"sctpParameters,omitempty"`
	IP             string                    `json:"ip,omitempty"`
	Port           uint16                    `json:"port,omitempty"`
	RTCPPort       uint16                    `json:"rtcpPort,omitempty"`
}

type RouterOptions struct {
	MediaCodecs []webrtc.RTPCodecCapability
}

type WebRTCTransportOptions struct {
	EnableUDP      bool
	EnableTCP      bool
	PreferUDP      bool
	EnableSCTP     bool
	NumSCTPStreams *NumSCTPStreams
	AppData        H
}

type PlainTransportOptions struct {
	RTCPMux    bool
	Comedia    bool
	EnableSCTP bool
	AppData    H
}

type DirectTransportOptions struct {
	MaxMessageSize uint32
	AppData        H
}

type TransportConnectOptions struct {
	DTLSParameters *webrtc.DTLSParameters `json:"dtlsParameters,omitempty"`
	IP             string                 `json:"ip,omitempty"`
	Port           uint16                 `json:"port,omitempty"`
	RTCPPort       uint16                 `json:"rtcpPort,omitempty"`
}

type ProducerOptions struct {
	Kind          Kind
	RTPParameters RTPParameters
	Paused        bool
	AppData       H
}

type ConsumerOptions struct {
	ProducerID      string
	RTPCapabilities RTPCapabilities
	Paused          bool
	EnableRTX       bool
	IgnoreDTX       bool
	AppData         H
}

type DataProducerOptions struct {
	SCTPStreamParameters *SCTPStreamParameters
	Label                string
	Protocol             string
	AppData              H
}

type DataConsumerOptions struct {
	DataProducerID string
	AppData        H
}

type AudioLevelObserverOptions struct {
	MaxEntries int
	Threshold  int
	Interval   int
}

type ActiveSpeakerObserverOptions struct {
	Interval int
}

// AudioLevelVolume is one entry of a volumes report, loudest first.
type AudioLevelVolume struct {
	Producer Producer
	Volume   int
}

type ProducerScore struct {
	SSRC  uint32 `json:"ssrc"`
	RID   string `json:"rid,omitempty"`
	Score int    `json:"score"`
}

type ConsumerScore struct {
	Score          int   `json:"score"`
	ProducerScore  int   `json:"producerScore"`
	ProducerScores []int `json:"producerScores,omitempty"`
}

type ConsumerLayers struct {
	SpatialLayer  uint8 `json:"spatialLayer"`
	TemporalLayer uint8 `json:"temporalLayer"`
}

type VideoOrientation struct {
	Camera   bool `json:"camera"`
	Flip     bool `json:"flip"`
	Rotation int  `json:"rotation"`
}

type TraceEventType string

const TraceEventBWE TraceEventType = "bwe"

// TraceEvent is a transport-level diagnostic event; bwe events with an "out"
// direction carry the downlink bandwidth estimate forwarded to peers.
type TraceEvent struct {
	Type      TraceEventType  `json:"type"`
	Direction string          `json:"direction"`
	Info      json.RawMessage `json:"info,omitempty"`
}
