package gridworld

import "packetworld.ai/internal/sim/world"

// Laws returns the movement and handling laws of w.
func (w *World) Laws() []world.Law {
	return []world.Law{StepLaw{w: w}, PickLaw{w: w}, PutLaw{w: w}, GenerateLaw{w: w}}
}

// StepLaw: one cell at a time, onto a free cell.
type StepLaw struct{ w *World }

func (StepLaw) Name() string { return "step" }

func (StepLaw) Applicable(e world.Effect) bool {
	_, ok := e.(Step)
	return ok
}

func (l StepLaw) Validate(e world.Effect) bool {
	s := e.(Step)
	a, ok := l.w.agents[s.By]
	if !ok {
		return false
	}
	return a.Pos.Dist(s.To) == 1 && l.w.Free(s.To)
}

// PickLaw: empty hands, adjacent packet.
type PickLaw struct{ w *World }

func (PickLaw) Name() string { return "pick" }

func (PickLaw) Applicable(e world.Effect) bool {
	_, ok := e.(Pick)
	return ok
}

func (l PickLaw) Validate(e world.Effect) bool {
	p := e.(Pick)
	a, ok := l.w.agents[p.By]
	if !ok || a.Carrying {
		return false
	}
	return a.Pos.Dist(p.At) == 1 && l.w.packets[p.At]
}

// PutLaw: carrying, adjacent cell without wall, packet or agent.
type PutLaw struct{ w *World }

func (PutLaw) Name() string { return "put" }

func (PutLaw) Applicable(e world.Effect) bool {
	_, ok := e.(Put)
	return ok
}

func (l PutLaw) Validate(e world.Effect) bool {
	p := e.(Put)
	a, ok := l.w.agents[p.By]
	if !ok || !a.Carrying {
		return false
	}
	return a.Pos.Dist(p.At) == 1 && l.w.Free(p.At)
}

// GenerateLaw: a generator with packets left and no cooldown, onto a free
// adjacent cell that is not a destination.
type GenerateLaw struct{ w *World }

func (GenerateLaw) Name() string { return "generate" }

func (GenerateLaw) Applicable(e world.Effect) bool {
	_, ok := e.(Generate)
	return ok
}

func (l GenerateLaw) Validate(e world.Effect) bool {
	g := e.(Generate)
	it, ok := l.w.items[g.By]
	if !ok {
		return false
	}
	return l.w.canGenerate(it, g.At)
}
