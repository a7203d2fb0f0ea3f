package room

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/config"
	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/metrics"
	"github.com/parleylab/parley/internal/signal"
)

// Room is one conferencing session. It owns the peer and broadcaster
// directories, the router handle, the activity observers and the bot, and
// dispatches every inbound signaling request.
type Room struct {
	id       string
	cfg      *config.Config
	replicas int

	router        media.Router
	audioLevel    media.AudioLevelObserver
	activeSpeaker media.ActiveSpeakerObserver
	bot           *Bot
	throttler     Throttler

	mu               sync.RWMutex
	peers            map[string]*Peer
	broadcasters     map[string]*Broadcaster
	networkThrottled bool

	closed  atomic.Bool
	closeMu sync.Mutex
	onClose []func()
}

// NewRoom builds a session on a worker from the pool. consumerReplicas is the
// number of extra consumers per (producer, peer) pair, for load testing.
func NewRoom(cfg *config.Config, worker media.Worker, consumerReplicas int) (*Room, error) {
	router, err := worker.CreateRouter(media.RouterOptions{})
	if err != nil {
		log.Error().Err(err).Str("module", "room").Msg("create router")
		return nil, err
	}

	audioLevel, err := router.CreateAudioLevelObserver(media.AudioLevelObserverOptions{
		MaxEntries: cfg.AudioLevelMaxEntries,
		Threshold:  cfg.AudioLevelThreshold,
		Interval:   cfg.AudioLevelInterval,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "room").Msg("create audio level observer")
		router.Close()
		return nil, err
	}

	activeSpeaker, err := router.CreateActiveSpeakerObserver(media.ActiveSpeakerObserverOptions{Interval: 300})
	if err != nil {
		log.Error().Err(err).Str("module", "room").Msg("create active speaker observer")
		router.Close()
		return nil, err
	}

	bot, err := NewBot(router)
	if err != nil {
		router.Close()
		return nil, err
	}

	r := &Room{
		id:            uuid.NewString(),
		cfg:           cfg,
		replicas:      consumerReplicas,
		router:        router,
		audioLevel:    audioLevel,
		activeSpeaker: activeSpeaker,
		bot:           bot,
		peers:         make(map[string]*Peer),
		broadcasters:  make(map[string]*Broadcaster),
	}
	r.watchObservers()

	metrics.SessionsCreated.Inc()
	log.Info().Str("module", "room").Str("room", r.id).Int("replicas", consumerReplicas).Msg("session created")
	return r, nil
}

func (r *Room) ID() string { return r.id }
func (r *Room) Closed() bool { return r.closed.Load() }

// Bot exposes the echo bot endpoint, mainly for tests.
func (r *Room) Bot() *Bot { return r.bot }

// SetThrottler installs the network impairment hook used by the diagnostic
// throttle requests.
func (r *Room) SetThrottler(t Throttler) { r.throttler = t }

// OnClose registers fn to run when the session closes. Fires exactly once.
func (r *Room) OnClose(fn func()) {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed.Load() {
		fn()
		return
	}
	r.onClose = append(r.onClose, fn)
}

func (r *Room) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	log.Info().Str("module", "room").Str("room", r.id).Msg("closing session")

	r.mu.Lock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	throttled := r.networkThrottled
	r.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}

	r.audioLevel.Close()
	r.activeSpeaker.Close()
	r.bot.Close()
	r.router.Close()

	if throttled && r.throttler != nil {
		if err := r.throttler.Reset(); err != nil {
			log.Warn().Err(err).Str("module", "room").Msg("reset network throttle")
		}
	}

	r.closeMu.Lock()
	callbacks := r.onClose
	r.onClose = nil
	r.closeMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// RouterRTPCapabilities returns the capability set a client needs before it
// can declare what it wants to receive.
func (r *Room) RouterRTPCapabilities() media.RTPCapabilities {
	return r.router.RTPCapabilities()
}

// Status is the introspection view of a session.
type Status struct {
	ID           string `json:"id"`
	Peers        int    `json:"peers"`
	Broadcasters int    `json:"broadcasters"`
	Throttled    bool   `json:"networkThrottled"`
}

func (r *Room) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		ID:           r.id,
		Peers:        len(r.peers),
		Broadcasters: len(r.broadcasters),
		Throttled:    r.networkThrottled,
	}
}

// HandleConnection registers a new signaling connection under peerID. A
// connection reusing a live peer id force-closes the previous one first.
func (r *Room) HandleConnection(peerID string, t signal.Transport) error {
	if r.closed.Load() {
		return ErrRoomClosed
	}

	peer := newPeer(peerID)
	peer.conn = signal.NewConn(t,
		func(m signal.Message, accept func(data any)) error {
			return r.handleRequest(peer, m, accept)
		},
		func() {
			r.handlePeerClose(peer)
		},
	)

	// Replace the map entry before closing a stale peer with the same id,
	// so its close handler never observes an empty room and tears the
	// session down under the replacement.
	r.mu.Lock()
	existing := r.peers[peerID]
	r.peers[peerID] = peer
	r.mu.Unlock()

	if existing != nil {
		log.Warn().Str("module", "room").Str("peer", peerID).Msg("peer id already connected, closing stale peer")
		existing.conn.Close()
	}

	metrics.PeersConnected.Inc()
	log.Info().Str("module", "room").Str("room", r.id).Str("peer", peerID).Msg("peer connected")

	peer.conn.Run()
	return nil
}

func (r *Room) handlePeerClose(peer *Peer) {
	if !peer.closed.CompareAndSwap(false, true) {
		return
	}
	metrics.PeersConnected.Dec()
	if r.closed.Load() {
		return
	}
	log.Info().Str("module", "room").Str("peer", peer.id).Msg("peer disconnected")

	if peer.Joined() {
		for _, other := range r.joinedPeers(peer) {
			other.conn.Notify("peerClosed", H{"peerId": peer.id})
		}
	}

	// Closing the transports cascades to every producer and consumer the
	// peer owns, which in turn removes the matching consumers on other
	// peers through their close handlers.
	peer.closeTransports()

	r.mu.Lock()
	if r.peers[peer.id] == peer {
		delete(r.peers, peer.id)
	}
	empty := len(r.peers) == 0
	r.mu.Unlock()

	if empty {
		log.Info().Str("module", "room").Str("room", r.id).Msg("last peer left, closing session")
		r.Close()
	}
}

// joinedPeers returns every joined peer except the excluded ones.
func (r *Room) joinedPeers(exclude ...*Peer) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if !p.Joined() {
			continue
		}
		skip := false
		for _, e := range exclude {
			if p == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) broadcastersSnapshot() []*Broadcaster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Broadcaster, 0, len(r.broadcasters))
	for _, b := range r.broadcasters {
		out = append(out, b)
	}
	return out
}

func (r *Room) watchObservers() {
	r.audioLevel.OnVolumes(func(volumes []media.AudioLevelVolume) {
		if len(volumes) == 0 {
			return
		}
		producer := volumes[0].Producer
		volume := volumes[0].Volume
		peerID, _ := producer.AppData()["peerId"].(string)

		log.Debug().Str("module", "room").Str("producer", producer.ID()).Int("volume", volume).Msg("audio level volumes")

		for _, p := range r.joinedPeers() {
			p.conn.Notify("activeSpeaker", H{"peerId": peerID, "volume": volume})
		}
	})

	r.audioLevel.OnSilence(func() {
		for _, p := range r.joinedPeers() {
			p.conn.Notify("activeSpeaker", H{"peerId": nil})
		}
	})

	// Dominant speaker changes are logged only; activeSpeaker already covers
	// the peer-facing contract through the volume observer.
	r.activeSpeaker.OnDominantSpeaker(func(producer media.Producer) {
		log.Debug().Str("module", "room").Str("producer", producer.ID()).Msg("dominant speaker change")
	})
}
