package behavior

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"packetworld.ai/internal/sim/actor"
	"packetworld.ai/internal/sim/gridworld"
)

const packetNote = "packet %d %d"

// Courier fetches packets and carries them to the nearest destination. It
// tells its peers about packets it sees and follows the tips it receives.
type Courier struct {
	rng   *rand.Rand
	peers []string

	known     map[gridworld.Point]bool
	announced map[gridworld.Point]bool
}

func NewCourier(seed uint64, peers []string) *Courier {
	return &Courier{
		rng:       newRand(seed),
		peers:     append([]string(nil), peers...),
		known:     map[gridworld.Point]bool{},
		announced: map[gridworld.Point]bool{},
	}
}

// Communicate announces fresh sightings in the first round and asks for a
// second round so the tips are read before anyone acts.
func (c *Courier) Communicate(t *actor.Turn) error {
	c.learn(t)
	if t.Round > 0 {
		return nil
	}
	v, ok := viewOf(t)
	if !ok {
		return nil
	}
	sent := 0
	for _, p := range v.Packets {
		if c.announced[p] {
			continue
		}
		c.announced[p] = true
		for _, peer := range c.peers {
			if peer == t.Name {
				continue
			}
			t.Send(peer, fmt.Sprintf(packetNote, p.X, p.Y))
			sent++
		}
	}
	if sent > 0 {
		t.Again()
	}
	return nil
}

func (c *Courier) Act(t *actor.Turn) error {
	c.learn(t)
	v, ok := viewOf(t)
	if !ok {
		t.Propose(skip(t))
		return nil
	}

	if v.Carrying {
		for _, p := range v.Neighbors(v.Pos) {
			if v.IsDestination(p) && v.Free(p) {
				propose(t, v, gridworld.Put{By: t.Self, Class: t.Priority, At: p})
				return nil
			}
		}
		c.walkToward(t, v, nearest(v.Pos, v.Destinations))
		return nil
	}

	for _, p := range v.Neighbors(v.Pos) {
		if c.seen(v, p) {
			propose(t, v, gridworld.Pick{By: t.Self, Class: t.Priority, At: p})
			return nil
		}
	}
	targets := make([]gridworld.Point, 0, len(c.known))
	for p := range c.known {
		targets = append(targets, p)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Y != targets[j].Y {
			return targets[i].Y < targets[j].Y
		}
		return targets[i].X < targets[j].X
	})
	c.walkToward(t, v, nearest(v.Pos, targets))
	return nil
}

// learn merges tips from mail and drops known packets that are gone.
func (c *Courier) learn(t *actor.Turn) {
	for _, m := range t.Received {
		var p gridworld.Point
		if _, err := fmt.Sscanf(m.Body, packetNote, &p.X, &p.Y); err == nil {
			c.known[p] = true
		}
	}
	v, ok := viewOf(t)
	if !ok {
		return
	}
	for p := range c.known {
		if v.Pos.Dist(p) <= v.Range && !c.seen(v, p) {
			delete(c.known, p)
		}
	}
	for _, p := range v.Packets {
		c.known[p] = true
	}
}

func (c *Courier) seen(v gridworld.View, p gridworld.Point) bool {
	for _, q := range v.Packets {
		if q == p {
			return true
		}
	}
	return false
}

// walkToward takes the free neighbor closest to target, or wanders when
// there is no target.
func (c *Courier) walkToward(t *actor.Turn, v gridworld.View, target *gridworld.Point) {
	var best []gridworld.Point
	bestDist := -1
	for _, p := range v.Neighbors(v.Pos) {
		if !v.Free(p) {
			continue
		}
		d := 0
		if target != nil {
			d = p.Dist(*target)
		}
		switch {
		case bestDist < 0 || d < bestDist:
			best, bestDist = []gridworld.Point{p}, d
		case d == bestDist:
			best = append(best, p)
		}
	}
	if len(best) == 0 {
		t.Propose(skip(t))
		return
	}
	to := best[c.rng.IntN(len(best))]
	propose(t, v, gridworld.Step{By: t.Self, Class: t.Priority, To: to})
}

func nearest(from gridworld.Point, pts []gridworld.Point) *gridworld.Point {
	var best *gridworld.Point
	for i := range pts {
		if best == nil || from.Dist(pts[i]) < from.Dist(*best) {
			best = &pts[i]
		}
	}
	return best
}
