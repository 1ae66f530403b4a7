package gridworld

import (
	"fmt"

	"packetworld.ai/internal/sim/ids"
)

type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

func (p Point) Dist(q Point) int { return ids.ChebyshevDistance(p.X, p.Y, q.X, q.Y) }

const (
	KindSkip = "skip"
	KindStep = "step"
	KindPick = "pick"
	KindPut  = "put"

	KindCharge   = "charge"
	KindGenerate = "generate"
)

// Skip does nothing. Charge is the energy it still costs, set when it stands
// in for a rejected effect.
type Skip struct {
	By     ids.ID
	Class  ids.Priority
	Charge int
}

func (e Skip) Author() ids.ID         { return e.By }
func (e Skip) Priority() ids.Priority { return e.Class }
func (e Skip) Kind() string           { return KindSkip }

// Step moves the author to an adjacent cell.
type Step struct {
	By    ids.ID
	Class ids.Priority
	To    Point
}

func (e Step) Author() ids.ID         { return e.By }
func (e Step) Priority() ids.Priority { return e.Class }
func (e Step) Kind() string           { return KindStep }

// Pick lifts the packet on an adjacent cell.
type Pick struct {
	By    ids.ID
	Class ids.Priority
	At    Point
}

func (e Pick) Author() ids.ID         { return e.By }
func (e Pick) Priority() ids.Priority { return e.Class }
func (e Pick) Kind() string           { return KindPick }

// Put drops the carried packet on an adjacent cell. Dropping it on a
// destination delivers it.
type Put struct {
	By    ids.ID
	Class ids.Priority
	At    Point
}

func (e Put) Author() ids.ID         { return e.By }
func (e Put) Priority() ids.Priority { return e.Class }
func (e Put) Kind() string           { return KindPut }

// Charge is the action of an energy station: it feeds every adjacent agent.
type Charge struct {
	By    ids.ID
	Class ids.Priority
}

func (e Charge) Author() ids.ID         { return e.By }
func (e Charge) Priority() ids.Priority { return e.Class }
func (e Charge) Kind() string           { return KindCharge }

// Generate places a new packet on a cell next to the generator.
type Generate struct {
	By    ids.ID
	Class ids.Priority
	At    Point
}

func (e Generate) Author() ids.ID         { return e.By }
func (e Generate) Priority() ids.Priority { return e.Class }
func (e Generate) Kind() string           { return KindGenerate }
