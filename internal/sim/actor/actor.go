// Package actor runs one active item: a goroutine cycling through perceive,
// communicate and act, emitting one outcome per phase and waiting for its
// unit to let it go on.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/outcome"
	"packetworld.ai/internal/sim/queue"
	"packetworld.ai/internal/sim/world"
)

var (
	ErrNoAction        = errors.New("behavior proposed no action")
	ErrMultipleActions = errors.New("behavior proposed more than one action")
	// ErrForeignEffect is returned for an effect that names another author or
	// priority class than the proposing actor.
	ErrForeignEffect = errors.New("behavior proposed an effect it does not own")
)

type Submitter interface {
	Submit(o *outcome.Outcome)
}

// Perceiver serves perception on behalf of the world owner.
type Perceiver interface {
	Perceive(ctx context.Context, id ids.ID) (world.Perception, error)
}

type Synchronizer interface {
	Dependencies(self ids.ID, p world.Perception) []ids.ID
}

// Locker is the registry's per-actor exclusive lock. The actor holds its own
// lock while it runs phase logic, so a resolving unit cannot reactivate it
// halfway through a phase.
type Locker interface {
	AcquireLock(id ids.ID) error
	ReleaseLock(id ids.ID)
}

type Config struct {
	ID       ids.ID
	Name     string
	Priority ids.Priority

	Behavior  Behavior
	Sync      Synchronizer
	Perceiver Perceiver
	Out       Submitter
	// Locker is optional; without it phases run unlocked.
	Locker Locker

	Logger  *log.Logger
	Verbose bool
}

type Actor struct {
	id       ids.ID
	name     string
	priority ids.Priority

	behavior  Behavior
	sync      Synchronizer
	perceiver Perceiver
	out       Submitter
	locker    Locker
	logger    *log.Logger
	verbose   bool

	inbox mail.Inbox
	gate  *queue.Gate

	mu    sync.Mutex
	phase Phase

	// Owned by the Run goroutine.
	deps []ids.ID
	turn *Turn

	stopOnce sync.Once
	stop     chan struct{}

	outcomes atomic.Uint64
}

func New(cfg Config) (*Actor, error) {
	if cfg.Behavior == nil {
		return nil, fmt.Errorf("actor %s: nil behavior", cfg.ID)
	}
	if cfg.Perceiver == nil || cfg.Out == nil {
		return nil, fmt.Errorf("actor %s: perceiver and submitter are required", cfg.ID)
	}
	deps := cfg.Sync
	if deps == nil {
		deps = noDeps{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.ID.String()
	}
	return &Actor{
		id:        cfg.ID,
		name:      name,
		priority:  cfg.Priority,
		behavior:  cfg.Behavior,
		sync:      deps,
		perceiver: cfg.Perceiver,
		out:       cfg.Out,
		locker:    cfg.Locker,
		logger:    logger,
		verbose:   cfg.Verbose,
		gate:      queue.NewGate(),
		phase:     Perceiving,
		stop:      make(chan struct{}),
	}, nil
}

type noDeps struct{}

func (noDeps) Dependencies(ids.ID, world.Perception) []ids.ID { return nil }

func (a *Actor) ID() ids.ID             { return a.id }
func (a *Actor) Name() string           { return a.name }
func (a *Actor) Priority() ids.Priority { return a.priority }
func (a *Actor) Inbox() *mail.Inbox     { return &a.inbox }

// Outcomes is the number of outcomes emitted so far.
func (a *Actor) Outcomes() uint64 { return a.outcomes.Load() }

func (a *Actor) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Activate is called by the registry while the actor's lock is held. A false
// continue-vote keeps the current phase so it runs again.
func (a *Actor) Activate(continueVote bool) {
	a.mu.Lock()
	if continueVote {
		a.phase = a.phase.Next()
	}
	a.mu.Unlock()
	a.gate.Open()
}

func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Run drives the actor until ctx is done or Stop is called. A non-nil error
// is a fatal fault of the behavior layer.
func (a *Actor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := a.lock(); err != nil {
			a.logger.Printf("actor %s: stopping: %v", a.id, err)
			return nil
		}
		phase := a.Phase()

		var (
			o   *outcome.Outcome
			err error
		)
		switch phase {
		case Perceiving:
			o, err = a.perceive(ctx)
		case Communicating:
			o, err = a.communicate()
		case Acting:
			o, err = a.act()
		}
		if err != nil {
			a.unlock()
			if ctx.Err() != nil || errors.Is(err, world.ErrVanished) {
				a.logger.Printf("actor %s: stopping in %s: %v", a.id, phase, err)
				return nil
			}
			return err
		}

		if a.verbose {
			a.logger.Printf("actor %s: submit %s", a.id, o)
		}
		a.outcomes.Add(1)
		a.out.Submit(o)
		a.unlock()

		if err := a.gate.Wait(ctx); err != nil {
			return nil
		}
	}
}

func (a *Actor) lock() error {
	if a.locker == nil {
		return nil
	}
	return a.locker.AcquireLock(a.id)
}

func (a *Actor) unlock() {
	if a.locker != nil {
		a.locker.ReleaseLock(a.id)
	}
}

func (a *Actor) perceive(ctx context.Context) (*outcome.Outcome, error) {
	p, err := a.perceiver.Perceive(ctx, a.id)
	if err != nil {
		return nil, fmt.Errorf("actor %s: perceive: %w", a.id, err)
	}
	a.deps = a.sync.Dependencies(a.id, p)
	a.turn = &Turn{
		Self:       a.id,
		Name:       a.name,
		Priority:   a.priority,
		Tick:       p.Tick,
		Perception: p,
	}
	return outcome.Perception(a.id, a.deps), nil
}

func (a *Actor) currentTurn() *Turn {
	if a.turn == nil {
		// Only reachable when a unit repeated a phase before the first perceive.
		a.turn = &Turn{Self: a.id, Name: a.name, Priority: a.priority}
	}
	a.turn.resetRound()
	a.turn.Received = append(a.turn.Received, a.inbox.Drain()...)
	return a.turn
}

func (a *Actor) communicate() (*outcome.Outcome, error) {
	t := a.currentTurn()
	if err := a.behavior.Communicate(t); err != nil {
		return nil, fmt.Errorf("actor %s: communicate: %w", a.id, err)
	}
	o := outcome.Communication(a.id, a.deps, t.sent, t.again)
	t.Round++
	return o, nil
}

func (a *Actor) act() (*outcome.Outcome, error) {
	t := a.currentTurn()
	if err := a.behavior.Act(t); err != nil {
		return nil, fmt.Errorf("actor %s: act: %w", a.id, err)
	}
	switch n := len(t.proposals); {
	case n == 0:
		return nil, fmt.Errorf("actor %s: %w", a.id, ErrNoAction)
	case n > 1:
		return nil, fmt.Errorf("actor %s: %w (%d)", a.id, ErrMultipleActions, n)
	}
	e := t.proposals[0]
	switch {
	case e == nil:
		return nil, fmt.Errorf("actor %s: %w (nil effect)", a.id, ErrNoAction)
	case e.Author() != a.id || e.Priority() != a.priority:
		return nil, fmt.Errorf("actor %s: %w: %s by %s as %s, want %s",
			a.id, ErrForeignEffect, e.Kind(), e.Author(), e.Priority(), a.priority)
	}
	return outcome.Action(a.id, a.deps, e), nil
}
