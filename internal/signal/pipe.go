package signal

import "sync"

// Pipe returns two connected in-memory transports. Frames sent on one end
// arrive, in order, on the other. Used by tests in place of websockets.
func Pipe() (Transport, Transport) {
	a := &pipeEnd{in: make(chan Message, 256), done: make(chan struct{})}
	b := &pipeEnd{in: make(chan Message, 256), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	peer *pipeEnd
	in   chan Message
	done chan struct{}

	closeOnce  sync.Once
	notifyOnce sync.Once

	mu      sync.Mutex
	onClose func()
}

func (p *pipeEnd) Send(m Message) error {
	select {
	case <-p.done:
		return ErrConnClosed
	case <-p.peer.done:
		return ErrConnClosed
	default:
	}
	select {
	case p.peer.in <- m:
		return nil
	default:
		return ErrBackpressure
	}
}

func (p *pipeEnd) Run(onMessage func(Message), onClose func()) {
	p.mu.Lock()
	p.onClose = onClose
	p.mu.Unlock()
	go func() {
		for {
			select {
			case <-p.done:
				p.fireClose()
				return
			case m := <-p.in:
				onMessage(m)
			}
		}
	}()
}

// Close tears down both ends: a closed pipe is dead for both parties.
func (p *pipeEnd) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.peer.closeOnce.Do(func() { close(p.peer.done) })
	p.fireClose()
	p.peer.fireClose()
}

func (p *pipeEnd) fireClose() {
	p.notifyOnce.Do(func() {
		p.mu.Lock()
		fn := p.onClose
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
