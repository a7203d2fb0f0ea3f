package mediatest

import (
	"sync"

	"github.com/parleylab/parley/internal/media"
)

type AudioLevelObserver struct {
	router *Router

	mu        sync.Mutex
	producers map[string]bool
	onVolumes func([]media.AudioLevelVolume)
	onSilence func()
}

func (o *AudioLevelObserver) AddProducer(producerID string) error {
	o.mu.Lock()
	o.producers[producerID] = true
	o.mu.Unlock()
	return nil
}

func (o *AudioLevelObserver) RemoveProducer(producerID string) error {
	o.mu.Lock()
	delete(o.producers, producerID)
	o.mu.Unlock()
	return nil
}

func (o *AudioLevelObserver) OnVolumes(fn func([]media.AudioLevelVolume)) {
	o.mu.Lock()
	o.onVolumes = fn
	o.mu.Unlock()
}

func (o *AudioLevelObserver) OnSilence(fn func()) {
	o.mu.Lock()
	o.onSilence = fn
	o.mu.Unlock()
}

func (o *AudioLevelObserver) Close() {}

// Has reports whether the producer is registered. Test hook.
func (o *AudioLevelObserver) Has(producerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.producers[producerID]
}

// EmitVolumes fires a volumes report for the given producer. Test hook.
func (o *AudioLevelObserver) EmitVolumes(producer media.Producer, volume int) {
	o.mu.Lock()
	fn := o.onVolumes
	o.mu.Unlock()
	if fn != nil {
		fn([]media.AudioLevelVolume{{Producer: producer, Volume: volume}})
	}
}

// EmitSilence fires a silence report. Test hook.
func (o *AudioLevelObserver) EmitSilence() {
	o.mu.Lock()
	fn := o.onSilence
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type ActiveSpeakerObserver struct {
	router *Router

	mu         sync.Mutex
	producers  map[string]bool
	onDominant func(media.Producer)
}

func (o *ActiveSpeakerObserver) AddProducer(producerID string) error {
	o.mu.Lock()
	o.producers[producerID] = true
	o.mu.Unlock()
	return nil
}

func (o *ActiveSpeakerObserver) RemoveProducer(producerID string) error {
	o.mu.Lock()
	delete(o.producers, producerID)
	o.mu.Unlock()
	return nil
}

func (o *ActiveSpeakerObserver) OnDominantSpeaker(fn func(media.Producer)) {
	o.mu.Lock()
	o.onDominant = fn
	o.mu.Unlock()
}

func (o *ActiveSpeakerObserver) Close() {}

// Has reports whether the producer is registered. Test hook.
func (o *ActiveSpeakerObserver) Has(producerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.producers[producerID]
}

// EmitDominantSpeaker fires a dominant speaker change. Test hook.
func (o *ActiveSpeakerObserver) EmitDominantSpeaker(producer media.Producer) {
	o.mu.Lock()
	fn := o.onDominant
	o.mu.Unlock()
	if fn != nil {
		fn(producer)
	}
}
