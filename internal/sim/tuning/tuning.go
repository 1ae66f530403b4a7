package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"packetworld.ai/internal/sim/behavior"
	"packetworld.ai/internal/sim/gridworld"
	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/synchro"
)

//go:embed scenario.schema.json
var scenarioSchema []byte

const schemaURL = "https://packetworld.ai/schemas/scenario.schema.json"

type Tuning struct {
	Scenario string `yaml:"scenario"`

	Seed           uint64 `yaml:"seed"`
	MaxTicks       uint64 `yaml:"max_ticks"`
	TickIntervalMs int    `yaml:"tick_interval_ms"`
	Synchronizer   string `yaml:"synchronizer"`
	SyncRadius     int    `yaml:"sync_radius"`
	Verbose        bool   `yaml:"verbose"`

	Grid       Grid            `yaml:"grid"`
	Agents     []AgentSpec     `yaml:"agents"`
	Stations   []StationSpec   `yaml:"stations"`
	Generators []GeneratorSpec `yaml:"generators"`
}

type Grid struct {
	Width        int               `yaml:"width"`
	Height       int               `yaml:"height"`
	View         int               `yaml:"view"`
	Recharge     int               `yaml:"recharge"`
	MaxEnergy    int               `yaml:"max_energy"`
	Costs        gridworld.Costs   `yaml:"costs"`
	Packets      []gridworld.Point `yaml:"packets"`
	Destinations []gridworld.Point `yaml:"destinations"`
	Walls        []gridworld.Point `yaml:"walls"`
}

type AgentSpec struct {
	Name     string `yaml:"name"`
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
	Energy   int    `yaml:"energy"`
	Behavior string `yaml:"behavior"`
	Priority string `yaml:"priority"`
}

// StationSpec places an energy station that gives Amount energy to every
// adjacent agent each tick.
type StationSpec struct {
	Name   string `yaml:"name"`
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Amount int    `yaml:"amount"`
}

// GeneratorSpec places a packet generator: Budget packets, one every Every
// ticks at most.
type GeneratorSpec struct {
	Name   string `yaml:"name"`
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Budget int    `yaml:"budget"`
	Every  int    `yaml:"every"`
}

// Item is any declared active item with the id GridConfig gives it.
type Item struct {
	ID       ids.ID
	Name     string
	Behavior string
	Priority ids.Priority
}

// envOverrides lists the settings that PW_* variables may override.
type envOverrides struct {
	Seed           uint64 `env:"SEED"`
	MaxTicks       uint64 `env:"MAX_TICKS"`
	TickIntervalMs int    `env:"TICK_INTERVAL_MS"`
	Synchronizer   string `env:"SYNCHRONIZER"`
	SyncRadius     int    `env:"SYNC_RADIUS"`
	Verbose        bool   `env:"VERBOSE"`
}

const EnvPrefix = "PW_"

// Load reads a scenario file, validates it against the embedded schema and
// applies defaults and PW_* environment overrides. An empty path yields the
// built-in demo scenario.
func Load(path string) (Tuning, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment; nil means the process
// environment.
func LoadWithEnv(path string, environ map[string]string) (Tuning, error) {
	t := Demo()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := validateSchema(raw); err != nil {
			return t, fmt.Errorf("scenario.yaml: %w", err)
		}
		t = defaults()
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("scenario.yaml: %w", err)
		}
	}
	if err := t.applyEnv(environ); err != nil {
		return t, fmt.Errorf("scenario env: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("scenario.yaml: %w", err)
	}
	return t, nil
}

func defaults() Tuning {
	return Tuning{
		Seed:         1337,
		MaxTicks:     2000,
		Synchronizer: "central",
	}
}

// Demo is the scenario used when no file is given.
func Demo() Tuning {
	return Tuning{
		Scenario:     "demo",
		Seed:         1337,
		MaxTicks:     2000,
		Synchronizer: "radius",
		SyncRadius:   3,
		Grid: Grid{
			Width:        12,
			Height:       8,
			View:         4,
			Recharge:     1,
			MaxEnergy:    50,
			Costs:        gridworld.Costs{Step: 1, Pick: 2, Put: 2},
			Packets:      []gridworld.Point{{X: 3, Y: 2}, {X: 8, Y: 5}, {X: 10, Y: 1}, {X: 5, Y: 6}},
			Destinations: []gridworld.Point{{X: 0, Y: 0}, {X: 11, Y: 7}},
			Walls:        []gridworld.Point{{X: 6, Y: 2}, {X: 6, Y: 3}, {X: 6, Y: 4}},
		},
		Agents: []AgentSpec{
			{Name: "ada", X: 1, Y: 1, Energy: 30, Behavior: "courier"},
			{Name: "bob", X: 10, Y: 6, Energy: 30, Behavior: "courier"},
			{Name: "cy", X: 4, Y: 4, Energy: 30, Behavior: "courier"},
			{Name: "drift", X: 9, Y: 3, Energy: 30, Behavior: "wander", Priority: "OTHER"},
		},
		Stations:   []StationSpec{{Name: "dock", X: 7, Y: 7, Amount: 5}},
		Generators: []GeneratorSpec{{Name: "chute", X: 2, Y: 5, Budget: 3, Every: 40}},
	}
}

func (t *Tuning) applyEnv(environ map[string]string) error {
	o := envOverrides{
		Seed:           t.Seed,
		MaxTicks:       t.MaxTicks,
		TickIntervalMs: t.TickIntervalMs,
		Synchronizer:   t.Synchronizer,
		SyncRadius:     t.SyncRadius,
		Verbose:        t.Verbose,
	}
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return err
	}
	t.Seed = o.Seed
	t.MaxTicks = o.MaxTicks
	t.TickIntervalMs = o.TickIntervalMs
	t.Synchronizer = o.Synchronizer
	t.SyncRadius = o.SyncRadius
	t.Verbose = o.Verbose
	return nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Scenario = strings.TrimSpace(t.Scenario)
	if t.Scenario == "" {
		t.Scenario = "unnamed"
	}
	t.Synchronizer = strings.ToLower(strings.TrimSpace(t.Synchronizer))
	if t.Synchronizer == "" {
		t.Synchronizer = "central"
	}
	if t.Grid.View <= 0 {
		t.Grid.View = t.Grid.Width + t.Grid.Height
	}
	for i := range t.Agents {
		t.Agents[i].Name = strings.TrimSpace(t.Agents[i].Name)
		t.Agents[i].Behavior = strings.ToLower(strings.TrimSpace(t.Agents[i].Behavior))
		if t.Agents[i].Behavior == "" {
			t.Agents[i].Behavior = "courier"
		}
	}
	for i := range t.Stations {
		t.Stations[i].Name = strings.TrimSpace(t.Stations[i].Name)
	}
	for i := range t.Generators {
		t.Generators[i].Name = strings.TrimSpace(t.Generators[i].Name)
	}
}

func (t Tuning) Validate() error {
	if t.Grid.Width <= 0 || t.Grid.Height <= 0 {
		return fmt.Errorf("grid size must be positive, got %dx%d", t.Grid.Width, t.Grid.Height)
	}
	if len(t.Agents) == 0 {
		return fmt.Errorf("no agents")
	}
	if _, err := synchro.ByName(t.Synchronizer, t.SyncRadius, nil); err != nil {
		return err
	}
	if t.TickIntervalMs < 0 {
		return fmt.Errorf("tick_interval_ms must be >= 0")
	}
	inside := func(p gridworld.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < t.Grid.Width && p.Y < t.Grid.Height
	}
	seen := map[string]bool{}
	for i, a := range t.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d]: missing name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if !inside(gridworld.Point{X: a.X, Y: a.Y}) {
			return fmt.Errorf("agents[%d] %s: position (%d,%d) outside grid", i, a.Name, a.X, a.Y)
		}
		switch a.Behavior {
		case "station", "generator":
			return fmt.Errorf("agents[%d] %s: behavior %q is reserved for items", i, a.Name, a.Behavior)
		}
		if _, err := behavior.New(a.Behavior, 0, nil); err != nil {
			return fmt.Errorf("agents[%d] %s: %w", i, a.Name, err)
		}
		if _, err := ids.ParsePriority(a.Priority); err != nil {
			return fmt.Errorf("agents[%d] %s: %w", i, a.Name, err)
		}
	}
	item := func(kind string, i int, name string, x, y int) error {
		if name == "" {
			return fmt.Errorf("%s[%d]: missing name", kind, i)
		}
		if seen[name] {
			return fmt.Errorf("%s[%d]: duplicate name %q", kind, i, name)
		}
		seen[name] = true
		if !inside(gridworld.Point{X: x, Y: y}) {
			return fmt.Errorf("%s[%d] %s: position (%d,%d) outside grid", kind, i, name, x, y)
		}
		return nil
	}
	for i, s := range t.Stations {
		if err := item("stations", i, s.Name, s.X, s.Y); err != nil {
			return err
		}
		if s.Amount <= 0 {
			return fmt.Errorf("stations[%d] %s: amount must be positive", i, s.Name)
		}
	}
	for i, g := range t.Generators {
		if err := item("generators", i, g.Name, g.X, g.Y); err != nil {
			return err
		}
		if g.Budget < 0 || g.Every < 0 {
			return fmt.Errorf("generators[%d] %s: budget and every must be >= 0", i, g.Name)
		}
	}
	for name, pts := range map[string][]gridworld.Point{
		"packets":      t.Grid.Packets,
		"destinations": t.Grid.Destinations,
		"walls":        t.Grid.Walls,
	} {
		for _, p := range pts {
			if !inside(p) {
				return fmt.Errorf("grid.%s: %s outside grid", name, p)
			}
		}
	}
	if (len(t.Grid.Packets) > 0 || len(t.Generators) > 0) && len(t.Grid.Destinations) == 0 {
		return fmt.Errorf("grid has packets but no destinations")
	}
	return nil
}

// AgentNames lists agent names in declaration order.
func (t Tuning) AgentNames() []string {
	out := make([]string, 0, len(t.Agents))
	for _, a := range t.Agents {
		out = append(out, a.Name)
	}
	return out
}

// Items lists agents, then stations, then generators, with the ids GridConfig
// assigns.
func (t Tuning) Items() ([]Item, error) {
	out := make([]Item, 0, len(t.Agents)+len(t.Stations)+len(t.Generators))
	for _, a := range t.Agents {
		prio, err := ids.ParsePriority(a.Priority)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		out = append(out, Item{ID: ids.ID(len(out) + 1), Name: a.Name, Behavior: a.Behavior, Priority: prio})
	}
	for _, s := range t.Stations {
		out = append(out, Item{ID: ids.ID(len(out) + 1), Name: s.Name, Behavior: "station", Priority: ids.PriorityEnergyStation})
	}
	for _, g := range t.Generators {
		out = append(out, Item{ID: ids.ID(len(out) + 1), Name: g.Name, Behavior: "generator", Priority: ids.PriorityGenerator})
	}
	return out, nil
}

// GridConfig builds the gridworld layout. Ids follow declaration order,
// starting at 1 with the agents; stations and generators come after them.
func (t Tuning) GridConfig() (gridworld.Config, error) {
	cfg := gridworld.Config{
		Width:        t.Grid.Width,
		Height:       t.Grid.Height,
		View:         t.Grid.View,
		Packets:      t.Grid.Packets,
		Destinations: t.Grid.Destinations,
		Walls:        t.Grid.Walls,
		Costs:        t.Grid.Costs,
		Recharge:     t.Grid.Recharge,
		MaxEnergy:    t.Grid.MaxEnergy,
	}
	items, err := t.Items()
	if err != nil {
		return cfg, err
	}
	for i, a := range t.Agents {
		it := items[i]
		cfg.Agents = append(cfg.Agents, gridworld.AgentConfig{
			ID:       it.ID,
			Name:     a.Name,
			Priority: it.Priority,
			Pos:      gridworld.Point{X: a.X, Y: a.Y},
			Energy:   a.Energy,
		})
	}
	items = items[len(t.Agents):]
	for i, s := range t.Stations {
		cfg.Stations = append(cfg.Stations, gridworld.StationConfig{
			ID:     items[i].ID,
			Name:   s.Name,
			Pos:    gridworld.Point{X: s.X, Y: s.Y},
			Amount: s.Amount,
		})
	}
	items = items[len(t.Stations):]
	for i, g := range t.Generators {
		cfg.Generators = append(cfg.Generators, gridworld.GeneratorConfig{
			ID:     items[i].ID,
			Name:   g.Name,
			Pos:    gridworld.Point{X: g.X, Y: g.Y},
			Budget: g.Budget,
			Every:  g.Every,
		})
	}
	return cfg, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	// Re-encode so the validator sees JSON types.
	js, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(scenarioSchema)); err != nil {
		return err
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return err
	}
	return s.Validate(v)
}
