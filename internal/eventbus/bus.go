// Package eventbus fans out in-process events (entity states, fires, config
// reloads) to log and state sinks.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeEntityState    = "entity.state"
	TypeScheduleFired  = "schedule.fired"
	TypeClockAnomaly   = "clock.anomaly"
	TypeConfigReloaded = "config.reloaded"
)

// Event is a small in-memory signal.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber loses events instead of stalling the tick loop.
type Event struct {
	Type string
	Time time.Time
	Boot string // boot id of the publishing process
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// WithBoot returns a bus that stamps every published event with boot.
func WithBoot(b Bus, boot string) Bus {
	return bootBus{Bus: b, boot: boot}
}

type bootBus struct {
	Bus
	boot string
}

func (b bootBus) Publish(e Event) {
	if e.Boot == "" {
		e.Boot = b.boot
	}
	b.Bus.Publish(e)
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		b.send(ch, e)
	}
}

// send delivers without blocking. A concurrent unsubscribe may close ch, so
// the send recovers from the resulting panic.
func (b *memBus) send(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
