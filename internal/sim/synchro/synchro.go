// Package synchro computes dependency sets: the active items an actor has to
// be kept in lock-step with during its next turn.
package synchro

import (
	"fmt"
	"strings"
	"sync"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/world"
)

// Roster enumerates the live active items.
type Roster interface {
	IDs() []ids.ID
}

// Central makes every active item depend on every other: one unit per turn.
type Central struct {
	Roster Roster
}

func (c Central) Dependencies(self ids.ID, _ world.Perception) []ids.ID {
	if c.Roster == nil {
		return nil
	}
	return ids.Without(c.Roster.IDs(), self)
}

// Independent lets every active item run at its own pace.
type Independent struct{}

func (Independent) Dependencies(ids.ID, world.Perception) []ids.ID { return nil }

// Static serves a fixed dependency map. Safe for concurrent use; Set may be
// called while actors run.
type Static struct {
	mu   sync.RWMutex
	deps map[ids.ID][]ids.ID
}

func NewStatic(deps map[ids.ID][]ids.ID) *Static {
	s := &Static{deps: map[ids.ID][]ids.ID{}}
	for id, d := range deps {
		s.deps[id] = ids.Sorted(d)
	}
	return s
}

func (s *Static) Set(id ids.ID, deps []ids.ID) {
	s.mu.Lock()
	s.deps[id] = ids.Sorted(deps)
	s.mu.Unlock()
}

func (s *Static) Dependencies(self ids.ID, _ world.Perception) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ids.Without(s.deps[self], self)
}

// Radius selects the sighted active items within a Chebyshev distance.
type Radius struct {
	R int
}

func (r Radius) Dependencies(self ids.ID, p world.Perception) []ids.ID {
	var out []ids.ID
	for _, s := range p.Nearby {
		if s.ID == self {
			continue
		}
		if ids.ChebyshevDistance(p.X, p.Y, s.X, s.Y) <= r.R {
			out = append(out, s.ID)
		}
	}
	return ids.Sorted(out)
}

type Provider interface {
	Dependencies(self ids.ID, p world.Perception) []ids.ID
}

// ByName builds one of the named providers: "central", "independent" or
// "radius".
func ByName(name string, radius int, roster Roster) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "central":
		return Central{Roster: roster}, nil
	case "independent", "none":
		return Independent{}, nil
	case "radius":
		if radius < 0 {
			return nil, fmt.Errorf("radius synchronizer: negative radius %d", radius)
		}
		return Radius{R: radius}, nil
	}
	return nil, fmt.Errorf("unknown synchronizer %q", name)
}
