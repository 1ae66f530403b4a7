package gridworld

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/world"
)

func testWorld(t *testing.T) *World {
	t.Helper()
	w, err := New(Config{
		Width:  6,
		Height: 4,
		View:   3,
		Agents: []AgentConfig{
			{ID: 1, Name: "a", Pos: Point{1, 1}, Energy: 10},
			{ID: 2, Name: "b", Pos: Point{5, 3}, Energy: 10},
		},
		Packets:      []Point{{2, 1}},
		Destinations: []Point{{0, 0}},
		Walls:        []Point{{1, 2}},
		Costs:        Costs{Step: 1, Pick: 2, Put: 2},
	})
	require.NoError(t, err)
	return w
}

// itemWorld has one agent between a station and a generator:
//
//	. . . . .
//	. S a G .
//	. . . . D
func itemWorld(t *testing.T, budget, every int) *World {
	t.Helper()
	w, err := New(Config{
		Width:        5,
		Height:       3,
		MaxEnergy:    12,
		Agents:       []AgentConfig{{ID: 1, Name: "a", Pos: Point{2, 1}, Energy: 5}},
		Destinations: []Point{{4, 2}},
		Stations:     []StationConfig{{ID: 2, Name: "dock", Pos: Point{1, 1}, Amount: 4}},
		Generators:   []GeneratorConfig{{ID: 3, Name: "gen", Pos: Point{3, 1}, Budget: budget, Every: every}},
	})
	require.NoError(t, err)
	return w
}

func validate(w *World, e world.Effect) (string, bool) {
	for _, l := range w.Laws() {
		if l.Applicable(e) && !l.Validate(e) {
			return l.Name(), false
		}
	}
	return "", true
}

func TestNew_RejectsBadLayouts(t *testing.T) {
	cases := map[string]Config{
		"zero size":    {},
		"outside":      {Width: 2, Height: 2, Packets: []Point{{2, 0}}},
		"overlap":      {Width: 2, Height: 2, Walls: []Point{{0, 0}}, Packets: []Point{{0, 0}}},
		"agent on dst": {Width: 2, Height: 2, Destinations: []Point{{1, 1}}, Agents: []AgentConfig{{ID: 1, Pos: Point{1, 1}}}},
		"dup agent":    {Width: 3, Height: 3, Agents: []AgentConfig{{ID: 1, Pos: Point{0, 0}}, {ID: 1, Pos: Point{1, 1}}}},
		"station on agent": {Width: 3, Height: 3,
			Agents:   []AgentConfig{{ID: 1, Pos: Point{0, 0}}},
			Stations: []StationConfig{{ID: 2, Pos: Point{0, 0}}}},
		"generator reuses agent id": {Width: 3, Height: 3,
			Agents:     []AgentConfig{{ID: 1, Pos: Point{0, 0}}},
			Generators: []GeneratorConfig{{ID: 1, Pos: Point{2, 2}}}},
	}
	for name, cfg := range cases {
		_, err := New(cfg)
		assert.Error(t, err, name)
	}
}

func TestWorld_PerceiveRespectsView(t *testing.T) {
	w := testWorld(t)
	p, err := w.Perceive(1)
	require.NoError(t, err)

	v := p.View.(View)
	assert.Equal(t, Point{1, 1}, v.Pos)
	assert.Equal(t, 10, v.Energy)
	assert.Equal(t, RoleAgent, v.Role)
	assert.Len(t, v.Packets, 1)
	assert.Len(t, v.Walls, 1)
	assert.Empty(t, p.Nearby, "agent #2 at distance 4 must be out of view")

	_, err = w.Perceive(9)
	assert.ErrorIs(t, err, world.ErrVanished)
}

func TestLaws(t *testing.T) {
	w := testWorld(t)
	cases := []struct {
		name string
		e    world.Effect
		law  string
		ok   bool
	}{
		{"step diagonal", Step{By: 1, To: Point{0, 0}}, "", true},
		{"step two cells", Step{By: 1, To: Point{3, 1}}, "step", false},
		{"step into wall", Step{By: 1, To: Point{1, 2}}, "step", false},
		{"step onto packet", Step{By: 1, To: Point{2, 1}}, "step", false},
		{"step outside", Step{By: 2, To: Point{6, 3}}, "step", false},
		{"pick adjacent", Pick{By: 1, At: Point{2, 1}}, "", true},
		{"pick far", Pick{By: 2, At: Point{2, 1}}, "pick", false},
		{"put empty handed", Put{By: 1, At: Point{0, 0}}, "put", false},
		{"skip", Skip{By: 1}, "", true},
	}
	for _, tc := range cases {
		law, ok := validate(w, tc.e)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.law, law, tc.name)
	}
}

func TestWorld_DeliveryEndsTheGame(t *testing.T) {
	w := testWorld(t)
	require.False(t, w.Done(), "done before delivery")

	steps := []world.Effect{
		Pick{By: 1, At: Point{2, 1}},
		Put{By: 1, At: Point{0, 0}},
	}
	for i, e := range steps {
		law, ok := validate(w, e)
		require.True(t, ok, "step %d rejected by %s", i, law)
		_, err := w.Apply(e)
		require.NoError(t, err, "apply %d", i)
		if i == 0 {
			require.False(t, w.Done(), "done while carrying")
		}
	}
	assert.True(t, w.Done())
	assert.Equal(t, 1, w.Delivered())

	a, _ := w.Agent(1)
	assert.Equal(t, 6, a.Energy)
	assert.False(t, a.Carrying)
}

func TestWorld_NoOpKeepsCharge(t *testing.T) {
	w := testWorld(t)
	noop := w.NoOp(Pick{By: 2, Class: ids.PriorityAgent, At: Point{2, 1}})
	assert.Equal(t, KindSkip, noop.Kind())
	assert.Equal(t, ids.ID(2), noop.Author())

	_, err := w.Apply(noop)
	require.NoError(t, err)
	a, _ := w.Agent(2)
	assert.Equal(t, 8, a.Energy)
	assert.True(t, w.HasPacket(Point{2, 1}), "noop moved the packet")
}

func TestWorld_StepMovesOccupancy(t *testing.T) {
	w := testWorld(t)
	_, err := w.Apply(Step{By: 1, To: Point{1, 0}})
	require.NoError(t, err)
	assert.False(t, w.Free(Point{1, 0}))
	assert.True(t, w.Free(Point{1, 1}))

	_, err = w.Apply(Step{By: 7, To: Point{3, 3}})
	assert.ErrorIs(t, err, world.ErrVanished)
}

func TestWorld_TickRecharges(t *testing.T) {
	w, err := New(Config{Width: 2, Height: 2, Recharge: 3, MaxEnergy: 5, Agents: []AgentConfig{{ID: 1, Pos: Point{0, 0}, Energy: 4}}})
	require.NoError(t, err)
	w.Tick(1)
	a, _ := w.Agent(1)
	assert.Equal(t, 5, a.Energy)
	assert.Equal(t, uint64(1), w.Now())
}

func TestWorld_StationChargesAdjacentAgents(t *testing.T) {
	w := itemWorld(t, 0, 0)

	res, err := w.Apply(Charge{By: 2, Class: ids.PriorityEnergyStation})
	require.NoError(t, err)
	assert.Equal(t, "charge [#1]", res.Event)
	a, _ := w.Agent(1)
	assert.Equal(t, 9, a.Energy)

	_, err = w.Apply(Charge{By: 2, Class: ids.PriorityEnergyStation})
	require.NoError(t, err)
	a, _ = w.Agent(1)
	assert.Equal(t, 12, a.Energy, "capped at max_energy")

	_, err = w.Apply(Step{By: 1, To: Point{2, 0}})
	require.NoError(t, err)
	_, err = w.Apply(Step{By: 1, To: Point{3, 0}})
	require.NoError(t, err)
	res, err = w.Apply(Charge{By: 2, Class: ids.PriorityEnergyStation})
	require.NoError(t, err)
	assert.Equal(t, "charge []", res.Event, "agent walked out of reach")
}

func TestWorld_ItemsBlockCellsAndAreSeen(t *testing.T) {
	w := itemWorld(t, 1, 0)
	assert.False(t, w.Free(Point{1, 1}))
	assert.False(t, w.Free(Point{3, 1}))

	law, ok := validate(w, Step{By: 1, To: Point{1, 1}})
	assert.False(t, ok)
	assert.Equal(t, "step", law)

	p, err := w.Perceive(1)
	require.NoError(t, err)
	v := p.View.(View)
	require.Len(t, v.Agents, 2)
	assert.Equal(t, RoleStation, v.Agents[0].Role)
	assert.Equal(t, RoleGenerator, v.Agents[1].Role)
	assert.Len(t, p.Nearby, 2)

	p, err = w.Perceive(2)
	require.NoError(t, err)
	sv := p.View.(View)
	assert.Equal(t, RoleStation, sv.Role)
	assert.Equal(t, Point{1, 1}, sv.Pos)
}

func TestWorld_GeneratorEmitsBudgetWithCooldown(t *testing.T) {
	w := itemWorld(t, 2, 3)
	require.False(t, w.Done(), "packets still to come")

	gen := Generate{By: 3, Class: ids.PriorityGenerator, At: Point{4, 1}}
	_, ok := validate(w, gen)
	require.True(t, ok)
	res, err := w.Apply(gen)
	require.NoError(t, err)
	assert.Equal(t, "generate (4,1)", res.Event)
	assert.True(t, w.HasPacket(Point{4, 1}))

	p, err := w.Perceive(3)
	require.NoError(t, err)
	v := p.View.(View)
	assert.Equal(t, 1, v.Budget)
	assert.Equal(t, 3, v.Cooldown)

	again := Generate{By: 3, Class: ids.PriorityGenerator, At: Point{4, 0}}
	law, ok := validate(w, again)
	assert.False(t, ok, "cooldown")
	assert.Equal(t, "generate", law)

	w.Tick(3)
	_, ok = validate(w, again)
	require.True(t, ok)
	_, err = w.Apply(again)
	require.NoError(t, err)

	w.Tick(6)
	_, ok = validate(w, Generate{By: 3, Class: ids.PriorityGenerator, At: Point{3, 0}})
	assert.False(t, ok, "budget spent")

	it, _ := w.Item(3)
	assert.Zero(t, it.Budget)
	assert.False(t, w.Done(), "generated packets wait for delivery")
}

func TestWorld_GeneratorLawRejectsBadCells(t *testing.T) {
	w := itemWorld(t, 5, 0)
	for name, at := range map[string]Point{
		"destination": {4, 2},
		"agent":       {2, 1},
		"far":         {0, 0},
	} {
		_, ok := validate(w, Generate{By: 3, Class: ids.PriorityGenerator, At: at})
		assert.False(t, ok, name)
	}
	_, err := w.Apply(Generate{By: 3, Class: ids.PriorityGenerator, At: Point{4, 2}})
	assert.Error(t, err, "apply checks the same rules without the law")
}

func TestWorld_ItemsCannotMoveAndAgentsCannotCharge(t *testing.T) {
	w := itemWorld(t, 1, 0)
	_, err := w.Apply(Step{By: 2, Class: ids.PriorityEnergyStation, To: Point{0, 1}})
	assert.Error(t, err)
	_, err = w.Apply(Charge{By: 1})
	assert.Error(t, err)
	_, err = w.Apply(Charge{By: 3, Class: ids.PriorityGenerator})
	assert.Error(t, err, "a generator is not a station")

	res, err := w.Apply(w.NoOp(Charge{By: 2, Class: ids.PriorityEnergyStation}))
	require.NoError(t, err)
	assert.Equal(t, "skip", res.Event)
}
