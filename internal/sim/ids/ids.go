package ids

import (
	"fmt"
	"sort"
	"strings"
)

// ID identifies an active item (agent or environment object) for the whole run.
type ID int

func (id ID) String() string { return fmt.Sprintf("#%d", int(id)) }

// Priority is the action priority class of an active item. Lower values win
// when effects of the same tick are ordered.
type Priority int

const (
	PriorityAgent Priority = iota
	PriorityEnergyStation
	PriorityGenerator
	PriorityConveyor
	PriorityOther
)

func (p Priority) String() string {
	switch p {
	case PriorityAgent:
		return "AGENT"
	case PriorityEnergyStation:
		return "ENERGY_STATION"
	case PriorityGenerator:
		return "GENERATOR"
	case PriorityConveyor:
		return "CONVEYOR"
	case PriorityOther:
		return "OTHER"
	default:
		return fmt.Sprintf("PRIORITY_%d", int(p))
	}
}

// ParsePriority accepts the names produced by String (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AGENT":
		return PriorityAgent, nil
	case "ENERGY_STATION":
		return PriorityEnergyStation, nil
	case "GENERATOR":
		return PriorityGenerator, nil
	case "CONVEYOR":
		return PriorityConveyor, nil
	case "OTHER":
		return PriorityOther, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Sorted returns a sorted copy of in without duplicates.
func Sorted(in []ID) []ID {
	if len(in) == 0 {
		return nil
	}
	out := make([]ID, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// Without returns in minus the given id, preserving order.
func Without(in []ID, id ID) []ID {
	out := make([]ID, 0, len(in))
	for _, x := range in {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func Contains(in []ID, id ID) bool {
	for _, x := range in {
		if x == id {
			return true
		}
	}
	return false
}

func ChebyshevDistance(x1, y1, x2, y2 int) int {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
