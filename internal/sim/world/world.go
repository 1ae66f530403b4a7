// Package world holds the contracts between the synchronization core and the
// simulated world: effects proposed by actors, the laws that gate them, the
// world itself and its clock. The core orders and gates effects but never
// interprets them.
package world

import (
	"errors"
	"time"

	"packetworld.ai/internal/sim/ids"
)

// ErrVanished is returned by World.Apply when the effect's target (the acting
// item or the addressed cell) no longer exists.
var ErrVanished = errors.New("effect target vanished")

// Effect is a proposed change to the world, authored by one active item during
// its action phase.
type Effect interface {
	Author() ids.ID
	Priority() ids.Priority
	Kind() string
}

// Law validates a proposed effect before it takes place. A law only has a say
// over effects it recognizes.
type Law interface {
	Name() string
	Applicable(e Effect) bool
	Validate(e Effect) bool
}

// Sighting is another active item seen during perception.
type Sighting struct {
	ID ids.ID `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
}

// Perception is what an active item sees at the start of its turn.
type Perception struct {
	Self ids.ID `json:"self"`
	Tick uint64 `json:"tick"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	// Nearby lists active items in view; dependency providers may use it.
	Nearby []Sighting `json:"nearby,omitempty"`
	// View is the world specific payload handed to behaviors.
	View any `json:"-"`
}

// Result describes an applied effect.
type Result struct {
	Event string
	// Removed lists active items destroyed by the effect.
	Removed []ids.ID
}

// World is the mutable simulation state. Implementations are not safe for
// concurrent use: the reactor goroutine is their only caller.
type World interface {
	Perceive(id ids.ID) (Perception, error)
	Apply(e Effect) (Result, error)
	// NoOp returns the no-op equivalent of e that still charges its author.
	NoOp(e Effect) Effect
	// Tick is called once per clock advance, after a batch was applied.
	Tick(now uint64)
	// Done reports global termination.
	Done() bool
}

type EffectStatus string

const (
	EffectApplied  EffectStatus = "APPLIED"
	EffectRejected EffectStatus = "REJECTED"
	EffectFailed   EffectStatus = "FAILED"
)

type EffectRecord struct {
	Author   ids.ID       `json:"author"`
	Priority ids.Priority `json:"priority"`
	Kind     string       `json:"kind"`
	Status   EffectStatus `json:"status"`
	Law      string       `json:"law,omitempty"`
	Event    string       `json:"event,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// TickRecord is one trace entry per clock advance.
type TickRecord struct {
	RunID   string         `json:"run_id"`
	Tick    uint64         `json:"tick"`
	At      time.Time      `json:"at"`
	Effects []EffectRecord `json:"effects"`
	Removed []ids.ID       `json:"removed,omitempty"`
	Done    bool           `json:"done,omitempty"`
}
