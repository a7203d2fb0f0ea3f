package media

import (
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// Pool hands out engine workers round-robin. The index is the only mutable
// state shared across sessions and is advanced atomically.
type Pool struct {
	workers []Worker
	next    atomic.Uint32
}

func NewPool(workers []Worker) *Pool {
	if len(workers) == 0 {
		panic("media: pool needs at least one worker")
	}
	log.Info().Str("module", "media.pool").Int("workers", len(workers)).Msg("worker pool ready")
	return &Pool{workers: workers}
}

func (p *Pool) Next() Worker {
	i := p.next.Inc() - 1
	return p.workers[int(i)%len(p.workers)]
}

func (p *Pool) Len() int { return len(p.workers) }

func (p *Pool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
}
