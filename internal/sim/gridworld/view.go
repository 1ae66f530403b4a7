package gridworld

import "packetworld.ai/internal/sim/ids"

// View is the gridworld payload of a perception.
type View struct {
	Width, Height int

	// Range is how far the item sees.
	Range int
	Role  Role
	Pos   Point

	Carrying bool
	Energy   int
	Costs    Costs

	// Budget and Cooldown are set for generators.
	Budget   int
	Cooldown int

	Packets      []Point
	Walls        []Point
	Destinations []Point
	// Agents lists every active item in view, stations and generators
	// included.
	Agents []Seen
}

type Seen struct {
	ID       ids.ID
	Name     string
	Role     Role
	Pos      Point
	Carrying bool
}

func (v View) Inside(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < v.Width && p.Y < v.Height
}

// Free reports whether p looks enterable from what is in view.
func (v View) Free(p Point) bool {
	if !v.Inside(p) || p == v.Pos {
		return false
	}
	for _, q := range v.Walls {
		if q == p {
			return false
		}
	}
	for _, q := range v.Packets {
		if q == p {
			return false
		}
	}
	for _, a := range v.Agents {
		if a.Pos == p {
			return false
		}
	}
	return true
}

func (v View) IsDestination(p Point) bool {
	for _, q := range v.Destinations {
		if q == p {
			return true
		}
	}
	return false
}

// Neighbors returns the up to eight cells around p inside the grid.
func (v View) Neighbors(p Point) []Point {
	out := make([]Point, 0, 8)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			q := Point{X: p.X + dx, Y: p.Y + dy}
			if v.Inside(q) {
				out = append(out, q)
			}
		}
	}
	return out
}
