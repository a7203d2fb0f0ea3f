package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/metrics"
)

var ErrConnClosed = errors.New("signal: connection closed")

// Transport is one bidirectional frame stream. Implementations: the websocket
// transport and the in-memory pipe used by tests.
type Transport interface {
	// Send enqueues a frame without blocking; it fails on backpressure or
	// when the transport is closed.
	Send(Message) error
	// Run starts delivery. Inbound frames arrive on onMessage in order;
	// onClose fires exactly once when the transport dies.
	Run(onMessage func(Message), onClose func())
	Close()
}

// Handler answers one inbound request. Calling accept sends the accept
// response immediately, so effects ordered after it (such as consumer
// negotiation toward the requesting peer) are observed after the response.
// Returning an error rejects the request; if neither happens an empty accept
// is sent.
type Handler func(m Message, accept func(data any)) error

// Conn multiplexes requests, responses and notifications over a Transport.
type Conn struct {
	t       Transport
	handler Handler
	onClose func()

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan Message
	closed  atomic.Bool

	notifyMu       sync.RWMutex
	onNotification func(Message)
}

// OnNotification installs a handler for inbound notifications. Without one
// they are dropped; the server side of a connection normally has no use for
// them.
func (c *Conn) OnNotification(fn func(Message)) {
	c.notifyMu.Lock()
	c.onNotification = fn
	c.notifyMu.Unlock()
}

func NewConn(t Transport, handler Handler, onClose func()) *Conn {
	return &Conn{
		t:       t,
		handler: handler,
		onClose: onClose,
		pending: make(map[int64]chan Message),
	}
}

// Run starts the underlying transport. Call after the owner has finished
// wiring the connection.
func (c *Conn) Run() {
	c.t.Run(c.route, c.transportClosed)
}

// Request sends a request and waits for the remote response or ctx expiry.
func (c *Conn) Request(ctx context.Context, method string, data any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	id := c.nextID.Inc()
	ch := make(chan Message, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.t.Send(newRequest(id, method, raw)); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rsp, ok := <-ch:
		if !ok {
			return nil, ErrConnClosed
		}
		if !rsp.OK {
			return nil, &Error{Code: rsp.ErrorCode, Reason: rsp.ErrorReason}
		}
		return rsp.Data, nil
	}
}

// Notify sends a notification best-effort: delivery failures are counted and
// dropped, never surfaced, so a slow or dead peer cannot fail the caller.
func (c *Conn) Notify(method string, data any) {
	raw, err := marshalData(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("method", method).Msg("notify marshal")
		return
	}
	if err := c.t.Send(newNotification(method, raw)); err != nil {
		metrics.NotificationsDropped.Inc()
		log.Debug().Err(err).Str("module", "signal").Str("method", method).Msg("notify dropped")
	}
}

func (c *Conn) Close() {
	c.t.Close()
}

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) route(m Message) {
	switch {
	case m.Response:
		c.mu.Lock()
		ch := c.pending[m.ID]
		delete(c.pending, m.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- m
		}
	case m.Request:
		c.handleRequest(m)
	case m.Notification:
		c.notifyMu.RLock()
		fn := c.onNotification
		c.notifyMu.RUnlock()
		if fn != nil {
			fn(m)
			return
		}
		log.Debug().Str("module", "signal").Str("method", m.Method).Msg("ignoring inbound notification")
	}
}

func (c *Conn) handleRequest(m Message) {
	if c.handler == nil {
		c.sendResponse(newReject(m.ID, NewError(CodeInternal, "no handler")))
		return
	}
	accepted := false
	accept := func(data any) {
		if accepted {
			return
		}
		accepted = true
		raw, err := marshalData(data)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("method", m.Method).Msg("accept marshal")
			c.sendResponse(newReject(m.ID, err))
			return
		}
		c.sendResponse(newAccept(m.ID, raw))
	}
	if err := c.handler(m, accept); err != nil {
		if accepted {
			log.Warn().Err(err).Str("module", "signal").Str("method", m.Method).Msg("handler failed after accept")
			return
		}
		c.sendResponse(newReject(m.ID, err))
		return
	}
	if !accepted {
		accept(nil)
	}
}

func (c *Conn) sendResponse(m Message) {
	if err := c.t.Send(m); err != nil {
		log.Debug().Err(err).Str("module", "signal").Int64("id", m.ID).Msg("response dropped")
	}
}

func (c *Conn) transportClosed() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose()
	}
}
