package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/sim/gridworld"
	"packetworld.ai/internal/sim/ids"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const minimal = `
scenario: tiny
grid:
  width: 4
  height: 3
  packets: [{x: 1, y: 1}]
  destinations: [{x: 0, y: 0}]
agents:
  - {name: a, x: 3, y: 2}
  - {name: b, x: 2, y: 0, behavior: Wander, priority: other}
`

const withItems = minimal + `
stations:
  - {name: dock, x: 0, y: 2, amount: 3}
generators:
  - {name: chute, x: 3, y: 0, budget: 2, every: 5}
`

func TestLoad_EmptyPathIsDemo(t *testing.T) {
	got, err := LoadWithEnv("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Scenario)
	assert.NotEmpty(t, got.Agents)
	assert.Len(t, got.Stations, 1)
	assert.Len(t, got.Generators, 1)
}

func TestLoad_SampleConfig(t *testing.T) {
	got, err := LoadWithEnv(filepath.Join("..", "..", "..", "configs", "scenario.yaml"), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "warehouse", got.Scenario)
	assert.Equal(t, "radius", got.Synchronizer)
	assert.Len(t, got.Agents, 5)
	assert.Equal(t, 2, got.Grid.Costs.Pick, "costs not decoded")
	assert.Equal(t, []StationSpec{{Name: "dock", X: 8, Y: 5, Amount: 4}}, got.Stations)
	assert.Equal(t, []GeneratorSpec{{Name: "chute", X: 3, Y: 4, Budget: 4, Every: 25}}, got.Generators)

	cfg, err := got.GridConfig()
	require.NoError(t, err)
	_, err = gridworld.New(cfg)
	assert.NoError(t, err, "sample layout must be placeable")
}

func TestLoad_DefaultsAndNormalize(t *testing.T) {
	got, err := LoadWithEnv(writeScenario(t, minimal), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), got.MaxTicks)
	assert.Equal(t, "central", got.Synchronizer)
	assert.Equal(t, uint64(1337), got.Seed)
	assert.Equal(t, 7, got.Grid.View, "view defaults to width+height")
	assert.Equal(t, "courier", got.Agents[0].Behavior)
	assert.Equal(t, "wander", got.Agents[1].Behavior)

	cfg, err := got.GridConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, ids.ID(1), cfg.Agents[0].ID)
	assert.Equal(t, ids.ID(2), cfg.Agents[1].ID)
	assert.Equal(t, ids.PriorityOther, cfg.Agents[1].Priority)
}

func TestLoad_EnvOverrides(t *testing.T) {
	got, err := LoadWithEnv(writeScenario(t, minimal), map[string]string{
		"PW_MAX_TICKS":    "10",
		"PW_SYNCHRONIZER": "Radius",
		"PW_SYNC_RADIUS":  "2",
		"PW_VERBOSE":      "true",
		"MAX_TICKS":       "99",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.MaxTicks)
	assert.Equal(t, "radius", got.Synchronizer)
	assert.Equal(t, 2, got.SyncRadius)
	assert.True(t, got.Verbose)

	_, err = LoadWithEnv(writeScenario(t, minimal), map[string]string{"PW_MAX_TICKS": "lots"})
	assert.Error(t, err, "malformed override")
}

func TestLoad_SchemaRejectsUnknownFields(t *testing.T) {
	body := strings.Replace(minimal, "scenario: tiny", "scenario: tiny\nturbo: true", 1)
	_, err := LoadWithEnv(writeScenario(t, body), map[string]string{})
	assert.Error(t, err, "unknown field")

	_, err = LoadWithEnv(writeScenario(t, "grid: {width: 2, height: 2}\nagents: []\n"), map[string]string{})
	assert.Error(t, err, "empty agents")

	body = strings.Replace(withItems, "amount: 3", "amount: 3, boost: 2", 1)
	_, err = LoadWithEnv(writeScenario(t, body), map[string]string{})
	assert.Error(t, err, "unknown station field")

	body = strings.Replace(withItems, "amount: 3", "amount: 0", 1)
	_, err = LoadWithEnv(writeScenario(t, body), map[string]string{})
	assert.Error(t, err, "station without charge")
}

func TestItems_StationsAndGeneratorsFollowAgents(t *testing.T) {
	got, err := LoadWithEnv(writeScenario(t, withItems), map[string]string{})
	require.NoError(t, err)

	items, err := got.Items()
	require.NoError(t, err)
	assert.Equal(t, []Item{
		{ID: 1, Name: "a", Behavior: "courier", Priority: ids.PriorityAgent},
		{ID: 2, Name: "b", Behavior: "wander", Priority: ids.PriorityOther},
		{ID: 3, Name: "dock", Behavior: "station", Priority: ids.PriorityEnergyStation},
		{ID: 4, Name: "chute", Behavior: "generator", Priority: ids.PriorityGenerator},
	}, items)
	assert.Equal(t, []string{"a", "b"}, got.AgentNames())

	cfg, err := got.GridConfig()
	require.NoError(t, err)
	assert.Equal(t, []gridworld.StationConfig{{ID: 3, Name: "dock", Pos: gridworld.Point{X: 0, Y: 2}, Amount: 3}}, cfg.Stations)
	assert.Equal(t, []gridworld.GeneratorConfig{{ID: 4, Name: "chute", Pos: gridworld.Point{X: 3, Y: 0}, Budget: 2, Every: 5}}, cfg.Generators)

	_, err = gridworld.New(cfg)
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Tuning {
		tu, err := LoadWithEnv(writeScenario(t, withItems), map[string]string{})
		require.NoError(t, err)
		return tu
	}
	cases := map[string]func(*Tuning){
		"duplicate name":           func(tu *Tuning) { tu.Agents[1].Name = "a" },
		"agent outside":            func(tu *Tuning) { tu.Agents[0].X = 4 },
		"packet outside":           func(tu *Tuning) { tu.Grid.Packets[0].Y = 3 },
		"unknown behavior":         func(tu *Tuning) { tu.Agents[0].Behavior = "teleport" },
		"agent as station":         func(tu *Tuning) { tu.Agents[0].Behavior = "station" },
		"unknown priority":         func(tu *Tuning) { tu.Agents[0].Priority = "boss" },
		"unknown sync":             func(tu *Tuning) { tu.Synchronizer = "mesh" },
		"no destinations":          func(tu *Tuning) { tu.Grid.Destinations = nil },
		"no agents":                func(tu *Tuning) { tu.Agents = nil },
		"station named like agent": func(tu *Tuning) { tu.Stations[0].Name = "b" },
		"station outside":          func(tu *Tuning) { tu.Stations[0].X = 9 },
		"station without charge":   func(tu *Tuning) { tu.Stations[0].Amount = 0 },
		"generator unnamed":        func(tu *Tuning) { tu.Generators[0].Name = "" },
		"generator negative":       func(tu *Tuning) { tu.Generators[0].Budget = -1 },
		"generator without drop":   func(tu *Tuning) { tu.Grid.Packets, tu.Grid.Destinations = nil, nil },
	}
	for name, mutate := range cases {
		tu := base()
		mutate(&tu)
		assert.Error(t, tu.Validate(), name)
	}
	assert.NoError(t, base().Validate())
}
