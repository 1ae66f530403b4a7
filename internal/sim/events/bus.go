// Package events is the in-process notification bus of a run. Publishers never
// block: a subscriber that falls behind loses events.
package events

import (
	"sync"
	"sync/atomic"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/world"
)

const defaultSubscriberBuffer = 256

type Type string

const (
	WorldProcessed Type = "WORLD_PROCESSED"
	MailSent       Type = "MAIL_SENT"
	AgentAction    Type = "AGENT_ACTION"
	GameOver       Type = "GAME_OVER"
)

type Event struct {
	Type   Type               `json:"type"`
	Tick   uint64             `json:"tick"`
	Author ids.ID             `json:"author,omitempty"`
	Kind   string             `json:"kind,omitempty"`
	Status world.EffectStatus `json:"status,omitempty"`
	Mail   *mail.Mail         `json:"mail,omitempty"`
}

type subscriber struct {
	ch     chan Event
	filter map[Type]bool
}

type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]subscriber
	nextID uint64
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: map[uint64]subscriber{}}
}

// Subscribe returns a channel receiving events of the given types (all types
// when none are given) and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	var filter map[Type]bool
	if len(types) > 0 {
		filter = make(map[Type]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		if s.filter != nil && !s.filter[ev.Type] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(s.ch)
}

// Close closes every subscriber channel; later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

func (b *Bus) Stats() Stats {
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load()}
}
