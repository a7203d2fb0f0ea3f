package room

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/config"
	"github.com/parleylab/parley/internal/media"
)

// Registry holds the single live session. Creation and teardown are
// serialized through one mutex so two connections racing for a fresh session
// cannot spawn two rooms.
type Registry struct {
	mu        sync.Mutex
	cfg       *config.Config
	pool      *media.Pool
	throttler Throttler
	room      *Room
}

func NewRegistry(cfg *config.Config, pool *media.Pool) *Registry {
	return &Registry{cfg: cfg, pool: pool}
}

// SetThrottler installs the network impairment hook applied to every session
// the registry creates.
func (g *Registry) SetThrottler(t Throttler) { g.throttler = t }

// Acquire returns the live session, creating one when none exists or the
// previous one already closed. consumerReplicas only takes effect on the
// connection that creates the session.
func (g *Registry) Acquire(consumerReplicas int) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.room != nil && !g.room.Closed() {
		return g.room, nil
	}

	room, err := NewRoom(g.cfg, g.pool.Next(), consumerReplicas)
	if err != nil {
		return nil, err
	}
	if g.throttler != nil {
		room.SetThrottler(g.throttler)
	}
	room.OnClose(func() {
		g.mu.Lock()
		if g.room == room {
			g.room = nil
		}
		g.mu.Unlock()
		log.Info().Str("module", "room").Str("room", room.ID()).Msg("session released")
	})
	g.room = room
	return room, nil
}

// Current returns the live session without creating one.
func (g *Registry) Current() *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.room != nil && g.room.Closed() {
		g.room = nil
	}
	return g.room
}
