package mediatest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/media"
)

type Transport struct {
	id      string
	appData media.H
	info    media.TransportInfo
	router  *Router

	mu                 sync.Mutex
	connected          bool
	maxIncomingBitrate int
	traceTypes         []media.TraceEventType
	producers          []*Producer
	consumers          []*Consumer
	dataProducers      []*DataProducer
	dataConsumers      []*DataConsumer
	onTrace            func(media.TraceEvent)
	onDTLSStateChange  func(string)
	onSCTPStateChange  func(string)
	onClose            []func()
	closed             atomic.Bool
}

func (t *Transport) ID() string { return t.id }
func (t *Transport) AppData() media.H { return t.appData }
func (t *Transport) Info() media.TransportInfo { return t.info }
func (t *Transport) Closed() bool { return t.closed.Load() }

func (t *Transport) Connect(opts media.TransportConnectOptions) error {
	if t.closed.Load() {
		return errClosed
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Connected reports whether Connect has been called. Test hook.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) RestartICE() (*media.ICERestartInfo, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	return &media.ICERestartInfo{
		UsernameFragment: uuid.NewString()[:8],
		Password:         uuid.NewString(),
		ICELite:          true,
	}, nil
}

func (t *Transport) SetMaxIncomingBitrate(bitrate int) error {
	t.mu.Lock()
	t.maxIncomingBitrate = bitrate
	t.mu.Unlock()
	return nil
}

// MaxIncomingBitrate returns the last applied limit. Test hook.
func (t *Transport) MaxIncomingBitrate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxIncomingBitrate
}

func (t *Transport) EnableTraceEvent(types ...media.TraceEventType) error {
	t.mu.Lock()
	t.traceTypes = types
	t.mu.Unlock()
	return nil
}

func (t *Transport) GetStats() (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	return json.RawMessage(fmt.Sprintf(`[{"transportId":%q,"type":"transport"}]`, t.id)), nil
}

func (t *Transport) OnTrace(fn func(media.TraceEvent)) {
	t.mu.Lock()
	t.onTrace = fn
	t.mu.Unlock()
}

func (t *Transport) OnDTLSStateChange(fn func(string)) {
	t.mu.Lock()
	t.onDTLSStateChange = fn
	t.mu.Unlock()
}

func (t *Transport) OnSCTPStateChange(fn func(string)) {
	t.mu.Lock()
	t.onSCTPStateChange = fn
	t.mu.Unlock()
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

// EmitTrace fires a trace event as the engine would. Test hook.
func (t *Transport) EmitTrace(ev media.TraceEvent) {
	t.mu.Lock()
	fn := t.onTrace
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// EmitDTLSStateChange fires a DTLS state change. Test hook.
func (t *Transport) EmitDTLSStateChange(state string) {
	t.mu.Lock()
	fn := t.onDTLSStateChange
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (t *Transport) Produce(opts media.ProducerOptions) (media.Producer, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	appData := opts.AppData
	if appData == nil {
		appData = media.H{}
	}
	p := &Producer{
		id:        uuid.NewString(),
		kind:      opts.Kind,
		rtp:       opts.RTPParameters,
		appData:   appData,
		transport: t,
	}
	p.paused.Store(opts.Paused)
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	t.router.registerProducer(p)
	return p, nil
}

func (t *Transport) Consume(opts media.ConsumerOptions) (media.Consumer, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	producer := t.router.producer(opts.ProducerID)
	if producer == nil {
		return nil, fmt.Errorf("mediatest: producer %q not found", opts.ProducerID)
	}
	appData := opts.AppData
	if appData == nil {
		appData = media.H{}
	}
	c := &Consumer{
		id:        uuid.NewString(),
		producer:  producer,
		kind:      producer.kind,
		rtp:       producer.rtp,
		appData:   appData,
		transport: t,
	}
	c.paused.Store(opts.Paused)
	c.producerPaused.Store(producer.Paused())
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	producer.addConsumer(c)
	return c, nil
}

func (t *Transport) ProduceData(opts media.DataProducerOptions) (media.DataProducer, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	appData := opts.AppData
	if appData == nil {
		appData = media.H{}
	}
	dp := &DataProducer{
		id:       uuid.NewString(),
		label:    opts.Label,
		protocol: opts.Protocol,
		sctp:     opts.SCTPStreamParameters,
		appData:  appData,
	}
	t.mu.Lock()
	t.dataProducers = append(t.dataProducers, dp)
	t.mu.Unlock()
	return dp, nil
}

func (t *Transport) ConsumeData(opts media.DataConsumerOptions) (media.DataConsumer, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	var producer *DataProducer
	for _, rt := range t.router.allTransports() {
		rt.mu.Lock()
		for _, dp := range rt.dataProducers {
			if dp.id == opts.DataProducerID {
				producer = dp
			}
		}
		rt.mu.Unlock()
		if producer != nil {
			break
		}
	}
	if producer == nil {
		return nil, fmt.Errorf("mediatest: data producer %q not found", opts.DataProducerID)
	}
	appData := opts.AppData
	if appData == nil {
		appData = media.H{}
	}
	dc := &DataConsumer{
		id:       uuid.NewString(),
		producer: producer,
		appData:  appData,
	}
	t.mu.Lock()
	t.dataConsumers = append(t.dataConsumers, dc)
	t.mu.Unlock()
	producer.addConsumer(dc)
	return dc, nil
}

func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	producers := t.producers
	consumers := t.consumers
	dataProducers := t.dataProducers
	dataConsumers := t.dataConsumers
	onClose := t.onClose
	t.producers, t.consumers, t.dataProducers, t.dataConsumers = nil, nil, nil, nil
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	for _, dp := range dataProducers {
		dp.Close()
	}
	for _, dc := range dataConsumers {
		dc.Close()
	}
	for _, fn := range onClose {
		fn()
	}
}

func (r *Router) allTransports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Transport, len(r.transports))
	copy(out, r.transports)
	return out
}
