// Package scenario turns a loaded tuning into engine options around a fresh
// gridworld.
package scenario

import (
	"fmt"
	"time"

	"packetworld.ai/internal/sim/behavior"
	"packetworld.ai/internal/sim/engine"
	"packetworld.ai/internal/sim/gridworld"
	"packetworld.ai/internal/sim/tuning"
)

// Build creates the world and the actor roster described by t, stations and
// generators included. The caller fills in run id, bus, sinks and logger.
func Build(t tuning.Tuning) (engine.Options, *gridworld.World, error) {
	cfg, err := t.GridConfig()
	if err != nil {
		return engine.Options{}, nil, fmt.Errorf("scenario %s: %w", t.Scenario, err)
	}
	w, err := gridworld.New(cfg)
	if err != nil {
		return engine.Options{}, nil, fmt.Errorf("scenario %s: %w", t.Scenario, err)
	}

	items, err := t.Items()
	if err != nil {
		return engine.Options{}, nil, fmt.Errorf("scenario %s: %w", t.Scenario, err)
	}
	names := t.AgentNames()
	actors := make([]engine.ActorSpec, 0, len(items))
	for _, it := range items {
		b, err := behavior.New(it.Behavior, t.Seed+uint64(it.ID), peersOf(names, it.Name))
		if err != nil {
			return engine.Options{}, nil, fmt.Errorf("scenario %s: %s: %w", t.Scenario, it.Name, err)
		}
		actors = append(actors, engine.ActorSpec{
			ID:       it.ID,
			Name:     it.Name,
			Priority: it.Priority,
			Behavior: b,
		})
	}

	return engine.Options{
		World:        w,
		Laws:         w.Laws(),
		Actors:       actors,
		SyncName:     t.Synchronizer,
		SyncRadius:   t.SyncRadius,
		Seed:         t.Seed,
		MaxTicks:     t.MaxTicks,
		TickInterval: time.Duration(t.TickIntervalMs) * time.Millisecond,
		Verbose:      t.Verbose,
	}, w, nil
}

func peersOf(names []string, self string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}
