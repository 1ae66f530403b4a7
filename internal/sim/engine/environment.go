// Package engine wires a run together: registry, actors, dispatcher and the
// three consumers around one world, and drives them until the world ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"packetworld.ai/internal/sim/actor"
	"packetworld.ai/internal/sim/dispatch"
	"packetworld.ai/internal/sim/events"
	"packetworld.ai/internal/sim/handlers"
	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/outcome"
	"packetworld.ai/internal/sim/registry"
	"packetworld.ai/internal/sim/synchro"
	"packetworld.ai/internal/sim/world"
)

// ActorSpec describes one active item created at setup.
type ActorSpec struct {
	ID       ids.ID
	Name     string
	Priority ids.Priority
	Behavior actor.Behavior
}

type Options struct {
	World  world.World
	Laws   []world.Law
	Actors []ActorSpec

	// Sync overrides SyncName/SyncRadius when set.
	Sync       actor.Synchronizer
	SyncName   string
	SyncRadius int

	RunID        string
	Seed         uint64
	MaxTicks     uint64
	TickInterval time.Duration

	Bus      *events.Bus
	TickSink handlers.TickSink
	MailSink handlers.MailSink

	Logger  *log.Logger
	Verbose bool
}

type Environment struct {
	runID  string
	logger *log.Logger
	bus    *events.Bus
	clock  *world.Clock

	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	perception *handlers.PerceptionAck
	postal     *handlers.Postal
	reactor    *handlers.Reactor
	actors     []*actor.Actor

	started  atomic.Bool
	lastTick atomic.Value // tickTiming
}

type tickTiming struct {
	at time.Time
	ms float64
}

func New(opts Options) (*Environment, error) {
	if opts.World == nil {
		return nil, fmt.Errorf("engine: world is required")
	}
	if len(opts.Actors) == 0 {
		return nil, fmt.Errorf("engine: no actors")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	e := &Environment{
		runID:  runID,
		logger: logger,
		bus:    bus,
		clock:  &world.Clock{},
		reg:    registry.New(logger),
	}
	e.clock.OnTick(e.noteTick)

	deps := opts.Sync
	if deps == nil {
		p, err := synchro.ByName(opts.SyncName, opts.SyncRadius, e.reg)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		deps = p
	}

	reactor, err := handlers.NewReactor(handlers.ReactorConfig{
		World:        opts.World,
		Clock:        e.clock,
		Laws:         opts.Laws,
		Roster:       e.reg,
		Bus:          bus,
		Sink:         opts.TickSink,
		RunID:        runID,
		MaxTicks:     opts.MaxTicks,
		TickInterval: opts.TickInterval,
		Logger:       logger,
		Verbose:      opts.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.reactor = reactor
	e.perception = handlers.NewPerceptionAck(logger)
	e.postal = handlers.NewPostal(handlers.PostalConfig{
		Directory: e.reg,
		Clock:     e.clock,
		Bus:       bus,
		Sink:      opts.MailSink,
		Seed:      opts.Seed,
		Logger:    logger,
		Verbose:   opts.Verbose,
	})

	d, err := dispatch.New(dispatch.Config{
		Registry: e.reg,
		Consumers: map[outcome.Destination]dispatch.Consumer{
			outcome.DestPerception: e.perception,
			outcome.DestPostal:     e.postal,
			outcome.DestReactor:    e.reactor,
		},
		Logger:  logger,
		Verbose: opts.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.dispatcher = d

	for _, spec := range opts.Actors {
		a, err := actor.New(actor.Config{
			ID:        spec.ID,
			Name:      spec.Name,
			Priority:  spec.Priority,
			Behavior:  spec.Behavior,
			Sync:      deps,
			Perceiver: reactor,
			Out:       d,
			Locker:    e.reg,
			Logger:    logger,
			Verbose:   opts.Verbose,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		if err := e.reg.Add(a); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.actors = append(e.actors, a)
	}
	return e, nil
}

func (e *Environment) RunID() string                { return e.runID }
func (e *Environment) Bus() *events.Bus             { return e.bus }
func (e *Environment) Registry() *registry.Registry { return e.reg }
func (e *Environment) Tick() uint64                 { return e.clock.Now() }
func (e *Environment) GameOver() bool               { return e.reactor.GameOver() }

// Run starts every goroutine and blocks until the world ends, ctx is done or
// an actor fails. An actor failure is returned; the other two are not errors.
func (e *Environment) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		cancel()
	}
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Printf("engine: %s: %v", name, err)
				fail(err)
			}
		}()
	}

	overCh, cancelOver := e.bus.Subscribe(1, events.GameOver)
	defer cancelOver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case _, ok := <-overCh:
			if ok {
				cancel()
			}
		}
	}()

	start("dispatcher", e.dispatcher.Run)
	start("perception", e.perception.Run)
	start("postal", e.postal.Run)
	start("reactor", e.reactor.Run)
	for _, a := range e.actors {
		a := a
		start(fmt.Sprintf("actor %s", a.ID()), a.Run)
	}
	e.logger.Printf("engine: run %s started with %d actors", e.runID, len(e.actors))

	wg.Wait()
	e.logger.Printf("engine: run %s stopped at tick %d", e.runID, e.clock.Now())
	return firstErr
}

func (e *Environment) noteTick(uint64) {
	now := time.Now()
	var ms float64
	if prev, ok := e.lastTick.Load().(tickTiming); ok {
		ms = float64(now.Sub(prev.at).Microseconds()) / 1000
	}
	e.lastTick.Store(tickTiming{at: now, ms: ms})
}
