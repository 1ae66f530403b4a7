// Package gridworld is a packet delivery world on a bounded grid: agents pick
// packets up and carry them to destinations, blocked by walls, packets and
// each other. Energy stations recharge the agents next to them and packet
// generators put new packets on the grid; both are active items too.
package gridworld

import (
	"fmt"
	"sort"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/world"
)

type AgentConfig struct {
	ID       ids.ID       `json:"id"`
	Name     string       `json:"name"`
	Priority ids.Priority `json:"priority"`
	Pos      Point        `json:"pos"`
	Energy   int          `json:"energy"`
}

// StationConfig places an energy station. Every charge gives Amount energy to
// each agent on an adjacent cell.
type StationConfig struct {
	ID     ids.ID `json:"id"`
	Name   string `json:"name"`
	Pos    Point  `json:"pos"`
	Amount int    `json:"amount"`
}

// GeneratorConfig places a packet generator that emits Budget packets onto
// adjacent cells, at most one every Every ticks.
type GeneratorConfig struct {
	ID     ids.ID `json:"id"`
	Name   string `json:"name"`
	Pos    Point  `json:"pos"`
	Budget int    `json:"budget"`
	Every  int    `json:"every"`
}

type Costs struct {
	Step int `json:"step"`
	Pick int `json:"pick"`
	Put  int `json:"put"`
}

type Config struct {
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	View         int           `json:"view"`
	Agents       []AgentConfig `json:"agents"`
	Packets      []Point       `json:"packets"`
	Destinations []Point       `json:"destinations"`
	Walls        []Point       `json:"walls"`
	Costs        Costs         `json:"costs"`

	Stations   []StationConfig   `json:"stations"`
	Generators []GeneratorConfig `json:"generators"`
	// Recharge is added to every agent's energy each tick, up to MaxEnergy.
	Recharge  int `json:"recharge"`
	MaxEnergy int `json:"max_energy"`
}

type Agent struct {
	ID       ids.ID
	Name     string
	Priority ids.Priority
	Pos      Point
	Carrying bool
	Energy   int
}

type Role string

const (
	RoleAgent     Role = "agent"
	RoleStation   Role = "station"
	RoleGenerator Role = "generator"
)

// Item is an environment object: a station or a generator.
type Item struct {
	ID       ids.ID
	Name     string
	Priority ids.Priority
	Role     Role
	Pos      Point

	Amount int

	Budget   int
	Every    int
	lastEmit uint64
	emitted  bool
}

// World is not safe for concurrent use.
type World struct {
	cfg Config

	agents   map[ids.ID]*Agent
	items    map[ids.ID]*Item
	occupied map[Point]ids.ID
	packets  map[Point]bool
	dests    map[Point]bool
	walls    map[Point]bool

	tick      uint64
	delivered int
}

func New(cfg Config) (*World, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gridworld: bad size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.View <= 0 {
		cfg.View = cfg.Width + cfg.Height
	}
	w := &World{
		cfg:      cfg,
		agents:   map[ids.ID]*Agent{},
		items:    map[ids.ID]*Item{},
		occupied: map[Point]ids.ID{},
		packets:  map[Point]bool{},
		dests:    map[Point]bool{},
		walls:    map[Point]bool{},
	}
	place := func(what string, p Point) error {
		if !w.Inside(p) {
			return fmt.Errorf("gridworld: %s at %s outside %dx%d", what, p, cfg.Width, cfg.Height)
		}
		if w.walls[p] || w.packets[p] || w.dests[p] {
			return fmt.Errorf("gridworld: %s at %s: cell taken", what, p)
		}
		if _, ok := w.occupied[p]; ok {
			return fmt.Errorf("gridworld: %s at %s: cell taken", what, p)
		}
		return nil
	}
	for _, p := range cfg.Walls {
		if err := place("wall", p); err != nil {
			return nil, err
		}
		w.walls[p] = true
	}
	for _, p := range cfg.Destinations {
		if err := place("destination", p); err != nil {
			return nil, err
		}
		w.dests[p] = true
	}
	for _, p := range cfg.Packets {
		if err := place("packet", p); err != nil {
			return nil, err
		}
		w.packets[p] = true
	}
	for _, ac := range cfg.Agents {
		if _, dup := w.agents[ac.ID]; dup {
			return nil, fmt.Errorf("gridworld: duplicate agent %s", ac.ID)
		}
		if err := place("agent "+ac.Name, ac.Pos); err != nil {
			return nil, err
		}
		w.agents[ac.ID] = &Agent{ID: ac.ID, Name: ac.Name, Priority: ac.Priority, Pos: ac.Pos, Energy: ac.Energy}
		w.occupied[ac.Pos] = ac.ID
	}
	addItem := func(it *Item) error {
		if _, dup := w.agents[it.ID]; dup {
			return fmt.Errorf("gridworld: duplicate item %s", it.ID)
		}
		if _, dup := w.items[it.ID]; dup {
			return fmt.Errorf("gridworld: duplicate item %s", it.ID)
		}
		if err := place(string(it.Role)+" "+it.Name, it.Pos); err != nil {
			return err
		}
		w.items[it.ID] = it
		w.occupied[it.Pos] = it.ID
		return nil
	}
	for _, sc := range cfg.Stations {
		it := &Item{ID: sc.ID, Name: sc.Name, Priority: ids.PriorityEnergyStation, Role: RoleStation, Pos: sc.Pos, Amount: sc.Amount}
		if err := addItem(it); err != nil {
			return nil, err
		}
	}
	for _, gc := range cfg.Generators {
		it := &Item{ID: gc.ID, Name: gc.Name, Priority: ids.PriorityGenerator, Role: RoleGenerator, Pos: gc.Pos, Budget: gc.Budget, Every: gc.Every}
		if err := addItem(it); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *World) Inside(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < w.cfg.Width && p.Y < w.cfg.Height
}

// Free reports whether an agent may enter p.
func (w *World) Free(p Point) bool {
	if !w.Inside(p) || w.walls[p] || w.packets[p] {
		return false
	}
	_, taken := w.occupied[p]
	return !taken
}

func (w *World) Agent(id ids.ID) (Agent, bool) {
	a, ok := w.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

func (w *World) Item(id ids.ID) (Item, bool) {
	it, ok := w.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

func (w *World) HasPacket(p Point) bool { return w.packets[p] }

func (w *World) Delivered() int { return w.delivered }

func (w *World) Now() uint64 { return w.tick }

// Cost is the energy an effect consumes when applied.
func (w *World) Cost(e world.Effect) int {
	switch x := e.(type) {
	case Step:
		return w.cfg.Costs.Step
	case Pick:
		return w.cfg.Costs.Pick
	case Put:
		return w.cfg.Costs.Put
	case Skip:
		return x.Charge
	}
	return 0
}

func (w *World) Perceive(id ids.ID) (world.Perception, error) {
	var v View
	if a, ok := w.agents[id]; ok {
		v = View{Role: RoleAgent, Pos: a.Pos, Carrying: a.Carrying, Energy: a.Energy}
	} else if it, ok := w.items[id]; ok {
		v = View{Role: it.Role, Pos: it.Pos, Budget: it.Budget, Cooldown: w.cooldown(it)}
	} else {
		return world.Perception{}, fmt.Errorf("perceive %s: %w", id, world.ErrVanished)
	}
	v.Width, v.Height, v.Range = w.cfg.Width, w.cfg.Height, w.cfg.View
	v.Costs = w.cfg.Costs
	v.Destinations = sortedPoints(w.dests, nil)

	within := func(p Point) bool { return v.Pos.Dist(p) <= w.cfg.View }
	v.Packets = sortedPoints(w.packets, within)
	v.Walls = sortedPoints(w.walls, within)

	p := world.Perception{Self: id, Tick: w.tick, X: v.Pos.X, Y: v.Pos.Y}
	seen := func(s Seen) {
		if s.ID == id || !within(s.Pos) {
			return
		}
		p.Nearby = append(p.Nearby, world.Sighting{ID: s.ID, X: s.Pos.X, Y: s.Pos.Y})
		v.Agents = append(v.Agents, s)
	}
	for _, other := range w.agents {
		seen(Seen{ID: other.ID, Name: other.Name, Role: RoleAgent, Pos: other.Pos, Carrying: other.Carrying})
	}
	for _, it := range w.items {
		seen(Seen{ID: it.ID, Name: it.Name, Role: it.Role, Pos: it.Pos})
	}
	sort.Slice(p.Nearby, func(i, j int) bool { return p.Nearby[i].ID < p.Nearby[j].ID })
	sort.Slice(v.Agents, func(i, j int) bool { return v.Agents[i].ID < v.Agents[j].ID })
	p.View = v
	return p, nil
}

// cooldown is the number of ticks before g may emit again.
func (w *World) cooldown(g *Item) int {
	if !g.emitted || g.Every <= 0 {
		return 0
	}
	next := g.lastEmit + uint64(g.Every)
	if w.tick >= next {
		return 0
	}
	return int(next - w.tick)
}

// canGenerate reports whether generator g may place a packet on p now.
func (w *World) canGenerate(g *Item, p Point) bool {
	return g.Role == RoleGenerator && g.Budget > 0 && w.cooldown(g) == 0 &&
		g.Pos.Dist(p) == 1 && w.Free(p) && !w.dests[p]
}

func (w *World) Apply(e world.Effect) (world.Result, error) {
	if it, ok := w.items[e.Author()]; ok {
		return w.applyItem(it, e)
	}
	a, ok := w.agents[e.Author()]
	if !ok {
		return world.Result{}, fmt.Errorf("%s by %s: %w", e.Kind(), e.Author(), world.ErrVanished)
	}
	var res world.Result
	switch x := e.(type) {
	case Skip:
		res.Event = "skip"
	case Step:
		delete(w.occupied, a.Pos)
		a.Pos = x.To
		w.occupied[a.Pos] = a.ID
		res.Event = "step " + x.To.String()
	case Pick:
		if !w.packets[x.At] {
			return world.Result{}, fmt.Errorf("pick at %s: %w", x.At, world.ErrVanished)
		}
		delete(w.packets, x.At)
		a.Carrying = true
		res.Event = "pick " + x.At.String()
	case Put:
		a.Carrying = false
		if w.dests[x.At] {
			w.delivered++
			res.Event = "deliver " + x.At.String()
		} else {
			w.packets[x.At] = true
			res.Event = "put " + x.At.String()
		}
	default:
		return world.Result{}, fmt.Errorf("gridworld: unsupported effect %T", e)
	}
	a.Energy -= w.Cost(e)
	if a.Energy < 0 {
		a.Energy = 0
	}
	return res, nil
}

func (w *World) applyItem(it *Item, e world.Effect) (world.Result, error) {
	switch x := e.(type) {
	case Skip:
		return world.Result{Event: "skip"}, nil
	case Charge:
		if it.Role != RoleStation {
			return world.Result{}, fmt.Errorf("gridworld: %s %s cannot charge", it.Role, it.ID)
		}
		var charged []ids.ID
		for _, a := range w.agents {
			if a.Pos.Dist(it.Pos) != 1 {
				continue
			}
			a.Energy += it.Amount
			if w.cfg.MaxEnergy > 0 && a.Energy > w.cfg.MaxEnergy {
				a.Energy = w.cfg.MaxEnergy
			}
			charged = append(charged, a.ID)
		}
		return world.Result{Event: fmt.Sprintf("charge %v", ids.Sorted(charged))}, nil
	case Generate:
		if !w.canGenerate(it, x.At) {
			return world.Result{}, fmt.Errorf("gridworld: %s cannot generate at %s", it.ID, x.At)
		}
		w.packets[x.At] = true
		it.Budget--
		it.lastEmit = w.tick
		it.emitted = true
		return world.Result{Event: "generate " + x.At.String()}, nil
	}
	return world.Result{}, fmt.Errorf("gridworld: %s %s cannot %s", it.Role, it.ID, e.Kind())
}

// NoOp keeps the author's energy charge of the rejected effect.
func (w *World) NoOp(e world.Effect) world.Effect {
	return Skip{By: e.Author(), Class: e.Priority(), Charge: w.Cost(e)}
}

func (w *World) Tick(now uint64) {
	w.tick = now
	if w.cfg.Recharge <= 0 {
		return
	}
	for _, a := range w.agents {
		a.Energy += w.cfg.Recharge
		if w.cfg.MaxEnergy > 0 && a.Energy > w.cfg.MaxEnergy {
			a.Energy = w.cfg.MaxEnergy
		}
	}
}

// Done reports that every packet was delivered and no generator has any
// left to emit.
func (w *World) Done() bool {
	if len(w.packets) > 0 {
		return false
	}
	for _, it := range w.items {
		if it.Role == RoleGenerator && it.Budget > 0 {
			return false
		}
	}
	for _, a := range w.agents {
		if a.Carrying {
			return false
		}
	}
	return true
}

func sortedPoints(set map[Point]bool, keep func(Point) bool) []Point {
	out := make([]Point, 0, len(set))
	for p := range set {
		if keep == nil || keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
