// Package behavior holds reference decision logic for gridworld agents.
package behavior

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"packetworld.ai/internal/sim/actor"
	"packetworld.ai/internal/sim/gridworld"
	"packetworld.ai/internal/sim/world"
)

// New builds the named behavior: "wander", "courier", "station" or
// "generator". Peers are the names a courier reports packet sightings to.
func New(name string, seed uint64, peers []string) (actor.Behavior, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wander":
		return NewWander(seed), nil
	case "", "courier":
		return NewCourier(seed, peers), nil
	case "station":
		return NewStation(), nil
	case "generator":
		return NewGenerator(seed), nil
	}
	return nil, fmt.Errorf("unknown behavior %q", name)
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed*0x9e3779b97f4a7c15+1))
}

func viewOf(t *actor.Turn) (gridworld.View, bool) {
	v, ok := t.Perception.View.(gridworld.View)
	return v, ok
}

// propose submits e, or a Skip when the agent cannot pay for it.
func propose(t *actor.Turn, v gridworld.View, e world.Effect) {
	cost := 0
	switch e.Kind() {
	case gridworld.KindStep:
		cost = v.Costs.Step
	case gridworld.KindPick:
		cost = v.Costs.Pick
	case gridworld.KindPut:
		cost = v.Costs.Put
	}
	if cost > v.Energy {
		t.Propose(skip(t))
		return
	}
	t.Propose(e)
}

func skip(t *actor.Turn) gridworld.Skip {
	return gridworld.Skip{By: t.Self, Class: t.Priority}
}

// Wander steps to a random free neighbor, or skips when boxed in.
type Wander struct {
	rng *rand.Rand
}

func NewWander(seed uint64) *Wander { return &Wander{rng: newRand(seed)} }

func (w *Wander) Communicate(*actor.Turn) error { return nil }

func (w *Wander) Act(t *actor.Turn) error {
	v, ok := viewOf(t)
	if !ok {
		t.Propose(skip(t))
		return nil
	}
	var free []gridworld.Point
	for _, p := range v.Neighbors(v.Pos) {
		if v.Free(p) {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		t.Propose(skip(t))
		return nil
	}
	to := free[w.rng.IntN(len(free))]
	propose(t, v, gridworld.Step{By: t.Self, Class: t.Priority, To: to})
	return nil
}
