package mediatest

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/media"
)

type Producer struct {
	id        string
	kind      media.Kind
	rtp       media.RTPParameters
	appData   media.H
	transport *Transport

	mu            sync.Mutex
	consumers     []*Consumer
	onScore       func([]media.ProducerScore)
	onOrientation func(media.VideoOrientation)
	onClose       []func()
	paused        atomic.Bool
	closed        atomic.Bool
}

func (p *Producer) ID() string { return p.id }
func (p *Producer) Kind() media.Kind { return p.kind }
func (p *Producer) RTPParameters() media.RTPParameters { return p.rtp }
func (p *Producer) AppData() media.H { return p.appData }
func (p *Producer) Paused() bool { return p.paused.Load() }
func (p *Producer) Closed() bool { return p.closed.Load() }

func (p *Producer) Pause() error {
	if p.closed.Load() {
		return errClosed
	}
	if p.paused.CompareAndSwap(false, true) {
		for _, c := range p.snapshotConsumers() {
			c.producerPaused.Store(true)
			c.fireProducerPause()
		}
	}
	return nil
}

func (p *Producer) Resume() error {
	if p.closed.Load() {
		return errClosed
	}
	if p.paused.CompareAndSwap(true, false) {
		for _, c := range p.snapshotConsumers() {
			c.producerPaused.Store(false)
			c.fireProducerResume()
		}
	}
	return nil
}

func (p *Producer) GetStats() (json.RawMessage, error) {
	if p.closed.Load() {
		return nil, errClosed
	}
	return json.RawMessage(fmt.Sprintf(`[{"producerId":%q,"type":"inbound-rtp"}]`, p.id)), nil
}

func (p *Producer) OnScore(fn func([]media.ProducerScore)) {
	p.mu.Lock()
	p.onScore = fn
	p.mu.Unlock()
}

func (p *Producer) OnVideoOrientationChange(fn func(media.VideoOrientation)) {
	p.mu.Lock()
	p.onOrientation = fn
	p.mu.Unlock()
}

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

// EmitScore fires a score report as the engine would. Test hook.
func (p *Producer) EmitScore(scores []media.ProducerScore) {
	p.mu.Lock()
	fn := p.onScore
	p.mu.Unlock()
	if fn != nil {
		fn(scores)
	}
}

func (p *Producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.transport.router.unregisterProducer(p.id)
	p.mu.Lock()
	consumers := p.consumers
	onClose := p.onClose
	p.consumers = nil
	p.mu.Unlock()
	for _, c := range consumers {
		c.closeFromProducer()
	}
	for _, fn := range onClose {
		fn()
	}
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
}

func (p *Producer) snapshotConsumers() []*Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Consumer, len(p.consumers))
	copy(out, p.consumers)
	return out
}

type Consumer struct {
	id        string
	producer  *Producer
	kind      media.Kind
	rtp       media.RTPParameters
	appData   media.H
	transport *Transport

	mu               sync.Mutex
	score            media.ConsumerScore
	preferredLayers  *media.ConsumerLayers
	priority         uint8
	keyFrameRequests int
	onClose          []func()
	onProducerClose  func()
	onProducerPause  func()
	onProducerResume func()
	onScore          func(media.ConsumerScore)
	onLayersChange   func(*media.ConsumerLayers)
	paused           atomic.Bool
	producerPaused   atomic.Bool
	closed           atomic.Bool
}

func (c *Consumer) ID() string { return c.id }
func (c *Consumer) ProducerID() string { return c.producer.id }
func (c *Consumer) Kind() media.Kind { return c.kind }
func (c *Consumer) Type() string { return "simple" }
func (c *Consumer) RTPParameters() media.RTPParameters { return c.rtp }
func (c *Consumer) AppData() media.H { return c.appData }
func (c *Consumer) Paused() bool { return c.paused.Load() }
func (c *Consumer) ProducerPaused() bool { return c.producerPaused.Load() }
func (c *Consumer) Closed() bool { return c.closed.Load() }

func (c *Consumer) Score() media.ConsumerScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score
}

func (c *Consumer) Pause() error {
	if c.closed.Load() {
		return errClosed
	}
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume() error {
	if c.closed.Load() {
		return errClosed
	}
	c.paused.Store(false)
	return nil
}

func (c *Consumer) SetPreferredLayers(layers media.ConsumerLayers) error {
	if c.closed.Load() {
		return errClosed
	}
	c.mu.Lock()
	c.preferredLayers = &layers
	c.mu.Unlock()
	return nil
}

func (c *Consumer) SetPriority(priority uint8) error {
	if c.closed.Load() {
		return errClosed
	}
	c.mu.Lock()
	c.priority = priority
	c.mu.Unlock()
	return nil
}

func (c *Consumer) RequestKeyFrame() error {
	if c.closed.Load() {
		return errClosed
	}
	c.mu.Lock()
	c.keyFrameRequests++
	c.mu.Unlock()
	return nil
}

func (c *Consumer) GetStats() (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errClosed
	}
	return json.RawMessage(fmt.Sprintf(`[{"consumerId":%q,"type":"outbound-rtp"}]`, c.id)), nil
}

func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	c.onProducerClose = fn
	c.mu.Unlock()
}

func (c *Consumer) OnProducerPause(fn func()) {
	c.mu.Lock()
	c.onProducerPause = fn
	c.mu.Unlock()
}

func (c *Consumer) OnProducerResume(fn func()) {
	c.mu.Lock()
	c.onProducerResume = fn
	c.mu.Unlock()
}

func (c *Consumer) OnScore(fn func(media.ConsumerScore)) {
	c.mu.Lock()
	c.onScore = fn
	c.mu.Unlock()
}

func (c *Consumer) OnLayersChange(fn func(*media.ConsumerLayers)) {
	c.mu.Lock()
	c.onLayersChange = fn
	c.mu.Unlock()
}

// EmitScore fires a score change as the engine would. Test hook.
func (c *Consumer) EmitScore(score media.ConsumerScore) {
	c.mu.Lock()
	c.score = score
	fn := c.onScore
	c.mu.Unlock()
	if fn != nil {
		fn(score)
	}
}

// EmitLayersChange fires a layers change as the engine would. Test hook.
func (c *Consumer) EmitLayersChange(layers *media.ConsumerLayers) {
	c.mu.Lock()
	fn := c.onLayersChange
	c.mu.Unlock()
	if fn != nil {
		fn(layers)
	}
}

func (c *Consumer) fireProducerPause() {
	c.mu.Lock()
	fn := c.onProducerPause
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) fireProducerResume() {
	c.mu.Lock()
	fn := c.onProducerResume
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) closeFromProducer() {
	c.mu.Lock()
	fn := c.onProducerClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	c.Close()
}

func (c *Consumer) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	onClose := c.onClose
	c.mu.Unlock()
	for _, fn := range onClose {
		fn()
	}
}
