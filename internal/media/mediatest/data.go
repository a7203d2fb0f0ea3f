package mediatest

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/media"
)

type DataProducer struct {
	id       string
	label    string
	protocol string
	sctp     *media.SCTPStreamParameters
	appData  media.H

	mu        sync.Mutex
	consumers []*DataConsumer
	onClose   []func()
	closed    atomic.Bool
}

func (dp *DataProducer) ID() string { return dp.id }
func (dp *DataProducer) Label() string { return dp.label }
func (dp *DataProducer) Protocol() string { return dp.protocol }
func (dp *DataProducer) AppData() media.H { return dp.appData }
func (dp *DataProducer) Closed() bool { return dp.closed.Load() }

func (dp *DataProducer) SCTPStreamParameters() *media.SCTPStreamParameters { return dp.sctp }

// Send delivers the payload to every consumer of this stream, the way a
// direct transport data producer would.
func (dp *DataProducer) Send(payload []byte) error {
	if dp.closed.Load() {
		return errClosed
	}
	dp.mu.Lock()
	consumers := make([]*DataConsumer, len(dp.consumers))
	copy(consumers, dp.consumers)
	dp.mu.Unlock()
	for _, dc := range consumers {
		dc.deliver(payload)
	}
	return nil
}

func (dp *DataProducer) GetStats() (json.RawMessage, error) {
	if dp.closed.Load() {
		return nil, errClosed
	}
	return json.RawMessage(fmt.Sprintf(`[{"dataProducerId":%q,"type":"data-producer"}]`, dp.id)), nil
}

func (dp *DataProducer) OnClose(fn func()) {
	dp.mu.Lock()
	dp.onClose = append(dp.onClose, fn)
	dp.mu.Unlock()
}

func (dp *DataProducer) Close() {
	if !dp.closed.CompareAndSwap(false, true) {
		return
	}
	dp.mu.Lock()
	consumers := dp.consumers
	onClose := dp.onClose
	dp.consumers = nil
	dp.mu.Unlock()
	for _, dc := range consumers {
		dc.Close()
	}
	for _, fn := range onClose {
		fn()
	}
}

func (dp *DataProducer) addConsumer(dc *DataConsumer) {
	dp.mu.Lock()
	dp.consumers = append(dp.consumers, dc)
	dp.mu.Unlock()
}

type DataConsumer struct {
	id       string
	producer *DataProducer
	appData  media.H

	mu        sync.Mutex
	onMessage func([]byte)
	onClose   []func()
	closed    atomic.Bool
}

func (dc *DataConsumer) ID() string { return dc.id }
func (dc *DataConsumer) DataProducerID() string { return dc.producer.id }
func (dc *DataConsumer) Label() string { return dc.producer.label }
func (dc *DataConsumer) Protocol() string { return dc.producer.protocol }
func (dc *DataConsumer) AppData() media.H { return dc.appData }
func (dc *DataConsumer) Closed() bool { return dc.closed.Load() }

func (dc *DataConsumer) SCTPStreamParameters() *media.SCTPStreamParameters {
	return dc.producer.sctp
}

func (dc *DataConsumer) GetStats() (json.RawMessage, error) {
	if dc.closed.Load() {
		return nil, errClosed
	}
	return json.RawMessage(fmt.Sprintf(`[{"dataConsumerId":%q,"type":"data-consumer"}]`, dc.id)), nil
}

func (dc *DataConsumer) OnMessage(fn func([]byte)) {
	dc.mu.Lock()
	dc.onMessage = fn
	dc.mu.Unlock()
}

func (dc *DataConsumer) OnClose(fn func()) {
	dc.mu.Lock()
	dc.onClose = append(dc.onClose, fn)
	dc.mu.Unlock()
}

func (dc *DataConsumer) deliver(payload []byte) {
	if dc.closed.Load() {
		return
	}
	dc.mu.Lock()
	fn := dc.onMessage
	dc.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (dc *DataConsumer) Close() {
	if !dc.closed.CompareAndSwap(false, true) {
		return
	}
	dc.mu.Lock()
	onClose := dc.onClose
	dc.mu.Unlock()
	for _, fn := range onClose {
		fn()
	}
}
