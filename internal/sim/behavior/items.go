package behavior

import (
	"math/rand/v2"

	"packetworld.ai/internal/sim/actor"
	"packetworld.ai/internal/sim/gridworld"
)

// Station charges whoever stands next to it, every tick.
type Station struct{}

func NewStation() *Station { return &Station{} }

func (*Station) Communicate(*actor.Turn) error { return nil }

func (*Station) Act(t *actor.Turn) error {
	t.Propose(gridworld.Charge{By: t.Self, Class: t.Priority})
	return nil
}

// Generator drops a packet on a random free neighbor whenever it has budget
// left and its cooldown has run out. Destinations are never used.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed uint64) *Generator { return &Generator{rng: newRand(seed)} }

func (*Generator) Communicate(*actor.Turn) error { return nil }

func (g *Generator) Act(t *actor.Turn) error {
	v, ok := viewOf(t)
	if !ok || v.Budget <= 0 || v.Cooldown > 0 {
		t.Propose(skip(t))
		return nil
	}
	var free []gridworld.Point
	for _, p := range v.Neighbors(v.Pos) {
		if v.Free(p) && !v.IsDestination(p) {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		t.Propose(skip(t))
		return nil
	}
	at := free[g.rng.IntN(len(free))]
	t.Propose(gridworld.Generate{By: t.Self, Class: t.Priority, At: at})
	return nil
}
