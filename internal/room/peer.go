// Package room implements the conferencing session core: the peer and
// broadcaster directories, the signaling request dispatch, the consumer
// negotiation protocol and the activity observer fan-out.
package room

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/signal"
)

// H is a free-form JSON object payload.
type H map[string]any

// DeviceInfo identifies the client software of a participant.
type DeviceInfo struct {
	Flag    string `json:"flag,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PeerInfo is the public view of a participant shared with other peers.
type PeerInfo struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName,omitempty"`
	Device      *DeviceInfo `json:"device,omitempty"`
}

// participant owns the engine resources of one peer or broadcaster.
type participant struct {
	id string

	mu               sync.RWMutex
	joined           bool
	displayName      string
	device           *DeviceInfo
	rtpCapabilities  *media.RTPCapabilities
	sctpCapabilities *media.SCTPCapabilities
	transports       map[string]media.Transport
	producers        map[string]media.Producer
	consumers        map[string]media.Consumer
	dataProducers    map[string]media.DataProducer
	dataConsumers    map[string]media.DataConsumer
}

func newParticipant(id string) participant {
	return participant{
		id:            id,
		transports:    make(map[string]media.Transport),
		producers:     make(map[string]media.Producer),
		consumers:     make(map[string]media.Consumer),
		dataProducers: make(map[string]media.DataProducer),
		dataConsumers: make(map[string]media.DataConsumer),
	}
}

func (p *participant) ID() string { return p.id }

func (p *participant) Joined() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.joined
}

func (p *participant) DisplayName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.displayName
}

func (p *participant) Info() PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PeerInfo{ID: p.id, DisplayName: p.displayName, Device: p.device}
}

func (p *participant) RTPCapabilities() *media.RTPCapabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rtpCapabilities
}

func (p *participant) SCTPCapabilities() *media.SCTPCapabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sctpCapabilities
}

func (p *participant) setDisplayName(name string) (old string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old = p.displayName
	p.displayName = name
	return old
}

func (p *participant) addTransport(t media.Transport) {
	p.mu.Lock()
	p.transports[t.ID()] = t
	p.mu.Unlock()
}

func (p *participant) getTransport(id string) media.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transports[id]
}

func (p *participant) deleteTransport(id string) {
	p.mu.Lock()
	delete(p.transports, id)
	p.mu.Unlock()
}

// consumingTransport returns the transport the participant created for
// receiving server-initiated consumers.
func (p *participant) consumingTransport() media.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.transports {
		if consuming, ok := t.AppData()["consuming"].(bool); ok && consuming {
			return t
		}
	}
	return nil
}

// closeTransports closes every transport, which cascades to every producer
// and consumer created on them.
func (p *participant) closeTransports() {
	p.mu.RLock()
	transports := make([]media.Transport, 0, len(p.transports))
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	p.mu.RUnlock()
	for _, t := range transports {
		t.Close()
	}
}

func (p *participant) addProducer(producer media.Producer) {
	p.mu.Lock()
	p.producers[producer.ID()] = producer
	p.mu.Unlock()
}

func (p *participant) getProducer(id string) media.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.producers[id]
}

func (p *participant) deleteProducer(id string) {
	p.mu.Lock()
	delete(p.producers, id)
	p.mu.Unlock()
}

func (p *participant) producersSnapshot() []media.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]media.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		out = append(out, producer)
	}
	return out
}

func (p *participant) addConsumer(consumer media.Consumer) {
	p.mu.Lock()
	p.consumers[consumer.ID()] = consumer
	p.mu.Unlock()
}

func (p *participant) getConsumer(id string) media.Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consumers[id]
}

func (p *participant) deleteConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *participant) consumerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.consumers)
}

func (p *participant) addDataProducer(dp media.DataProducer) {
	p.mu.Lock()
	p.dataProducers[dp.ID()] = dp
	p.mu.Unlock()
}

func (p *participant) getDataProducer(id string) media.DataProducer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dataProducers[id]
}

func (p *participant) deleteDataProducer(id string) {
	p.mu.Lock()
	delete(p.dataProducers, id)
	p.mu.Unlock()
}

func (p *participant) dataProducersSnapshot() []media.DataProducer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]media.DataProducer, 0, len(p.dataProducers))
	for _, dp := range p.dataProducers {
		out = append(out, dp)
	}
	return out
}

func (p *participant) addDataConsumer(dc media.DataConsumer) {
	p.mu.Lock()
	p.dataConsumers[dc.ID()] = dc
	p.mu.Unlock()
}

func (p *participant) getDataConsumer(id string) media.DataConsumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dataConsumers[id]
}

func (p *participant) deleteDataConsumer(id string) {
	p.mu.Lock()
	delete(p.dataConsumers, id)
	p.mu.Unlock()
}

// Peer is one persistently connected participant.
type Peer struct {
	participant
	conn   *signal.Conn
	closed atomic.Bool
}

func newPeer(id string) *Peer {
	return &Peer{participant: newParticipant(id)}
}

// Conn exposes the signaling connection, mainly for tests.
func (p *Peer) Conn() *signal.Conn { return p.conn }

func (p *Peer) setJoined(displayName string, device *DeviceInfo, rtpCaps *media.RTPCapabilities, sctpCaps *media.SCTPCapabilities) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joined {
		return ErrAlreadyJoined
	}
	p.joined = true
	p.displayName = displayName
	p.device = device
	p.rtpCapabilities = rtpCaps
	p.sctpCapabilities = sctpCaps
	return nil
}

// Broadcaster is a non-interactively attached participant: its capabilities
// arrive at creation and its resources via imperative calls. It counts as
// joined for notification purposes.
type Broadcaster struct {
	participant
}

func newBroadcaster(id, displayName string, device *DeviceInfo, rtpCaps *media.RTPCapabilities) *Broadcaster {
	b := &Broadcaster{participant: newParticipant(id)}
	b.joined = true
	b.displayName = displayName
	b.device = device
	b.rtpCapabilities = rtpCaps
	return b
}
