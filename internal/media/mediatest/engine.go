// Package mediatest provides an in-memory media engine implementing the
// capability surface in package media. It forwards nothing: it only keeps the
// resource graph (routers, transports, producers, consumers) and replays the
// lifecycle cascades a real engine would, which is what the session layer and
// its tests need.
package mediatest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/media"
)

var errClosed = errors.New("mediatest: closed")

var defaultCapabilities = media.RTPCapabilities{
	Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", ClockRate: 90000},
	},
	HeaderExtensions: []string{
		"urn:ietf:params:rtp-hdrext:sdes:mid",
		"urn:ietf:params:rtp-hdrext:ssrc-audio-level",
	},
}

type Worker struct {
	mu      sync.Mutex
	routers []*Router
	closed  atomic.Bool
}

func NewWorker() *Worker { return &Worker{} }

func (w *Worker) CreateRouter(opts media.RouterOptions) (media.Router, error) {
	if w.closed.Load() {
		return nil, errClosed
	}
	caps := defaultCapabilities
	if len(opts.MediaCodecs) > 0 {
		caps = media.RTPCapabilities{Codecs: opts.MediaCodecs}
	}
	r := &Router{
		id:        uuid.NewString(),
		caps:      caps,
		producers: make(map[string]*Producer),
	}
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) Closed() bool { return w.closed.Load() }

func (w *Worker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.mu.Lock()
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}

type Router struct {
	id   string
	caps media.RTPCapabilities

	mu         sync.Mutex
	transports []*Transport
	producers  map[string]*Producer
	closed     atomic.Bool
}

func (r *Router) ID() string { return r.id }
func (r *Router) RTPCapabilities() media.RTPCapabilities { return r.caps }
func (r *Router) Closed() bool { return r.closed.Load() }

func (r *Router) CreateWebRTCTransport(opts media.WebRTCTransportOptions) (media.Transport, error) {
	info := media.TransportInfo{
		ICEParameters: &webrtc.ICEParameters{
			UsernameFragment: uuid.NewString()[:8],
			Password:         uuid.NewString(),
			ICELite:          true,
		},
		ICECandidates: []webrtc.ICECandidateInit{{Candidate: "candidate:0 1 udp 2113667327 127.0.0.1 40000 typ host"}},
		DTLSParameters: &webrtc.DTLSParameters{
			Role: webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{
				{Algorithm: "sha-256", Value: "00:00:00:00"},
			},
		},
	}
	if opts.EnableSCTP {
		sctp := &media.SCTPParameters{Port: 5000, OS: 1024, MIS: 1024, MaxMessageSize: 262144}
		if opts.NumSCTPStreams != nil {
			sctp.OS = opts.NumSCTPStreams.OS
			sctp.MIS = opts.NumSCTPStreams.MIS
		}
		info.SCTPParameters = sctp
	}
	return r.addTransport(opts.AppData, info)
}

func (r *Router) CreatePlainTransport(opts media.PlainTransportOptions) (media.Transport, error) {
	info := media.TransportInfo{IP: "127.0.0.1", Port: 40002}
	if !opts.RTCPMux {
		info.RTCPPort = 40003
	}
	return r.addTransport(opts.AppData, info)
}

func (r *Router) CreateDirectTransport(opts media.DirectTransportOptions) (media.Transport, error) {
	return r.addTransport(opts.AppData, media.TransportInfo{})
}

func (r *Router) addTransport(appData media.H, info media.TransportInfo) (*Transport, error) {
	if r.closed.Load() {
		return nil, errClosed
	}
	if appData == nil {
		appData = media.H{}
	}
	info.ID = uuid.NewString()
	t := &Transport{id: info.ID, appData: appData, info: info, router: r}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CreateAudioLevelObserver(opts media.AudioLevelObserverOptions) (media.AudioLevelObserver, error) {
	if r.closed.Load() {
		return nil, errClosed
	}
	return &AudioLevelObserver{router: r, producers: map[string]bool{}}, nil
}

func (r *Router) CreateActiveSpeakerObserver(opts media.ActiveSpeakerObserverOptions) (media.ActiveSpeakerObserver, error) {
	if r.closed.Load() {
		return nil, errClosed
	}
	return &ActiveSpeakerObserver{router: r, producers: map[string]bool{}}, nil
}

// CanConsume requires the producer to exist and the capability set to carry a
// codec of the producer's kind.
func (r *Router) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	r.mu.Lock()
	producer, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	prefix := string(producer.kind) + "/"
	for _, c := range caps.Codecs {
		if len(c.MimeType) > len(prefix) && c.MimeType[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	transports := r.transports
	r.transports = nil
	r.mu.Unlock()
	for _, t := range transports {
		t.Close()
	}
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) producer(id string) *Producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[id]
}

func emptyStats() (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}
