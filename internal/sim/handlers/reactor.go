package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"packetworld.ai/internal/sim/dispatch"
	"packetworld.ai/internal/sim/events"
	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/queue"
	"packetworld.ai/internal/sim/world"
)

// Roster removes actors destroyed by the world.
type Roster interface {
	Remove(id ids.ID) bool
}

// TickSink persists one record per tick.
type TickSink interface {
	WriteTick(rec world.TickRecord) error
}

type ReactorConfig struct {
	World world.World
	Clock *world.Clock
	Laws  []world.Law

	Roster Roster
	Bus    *events.Bus
	Sink   TickSink
	RunID  string

	// MaxTicks ends the run after that many ticks; 0 means no limit.
	MaxTicks uint64
	// TickInterval is the minimum wall time between two ticks.
	TickInterval time.Duration
	// OnGameOver is called once, from the reactor goroutine.
	OnGameOver func(tick uint64)

	Logger  *log.Logger
	Verbose bool
}

type perceiveReq struct {
	id    ids.ID
	reply chan perceiveResp
}

type perceiveResp struct {
	p   world.Perception
	err error
}

// job is either an effect batch or a perception request.
type job struct {
	batch    *dispatch.Payload
	perceive *perceiveReq
}

// Reactor is the only goroutine touching the world and its clock. It applies
// effect batches in priority order and serves perception requests in between.
type Reactor struct {
	cfg    ReactorConfig
	world  world.World
	clock  *world.Clock
	logger *log.Logger

	in *queue.Queue[job]

	over     atomic.Bool
	lastTick time.Time

	ticks    atomic.Uint64
	applied  atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
	removed  atomic.Uint64
}

func NewReactor(cfg ReactorConfig) (*Reactor, error) {
	if cfg.World == nil {
		return nil, fmt.Errorf("reactor: world is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = &world.Clock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reactor{
		cfg:    cfg,
		world:  cfg.World,
		clock:  cfg.Clock,
		logger: logger,
		in:     queue.New[job](),
	}, nil
}

func (r *Reactor) Deposit(p dispatch.Payload) {
	r.in.Push(job{batch: &p})
}

func (r *Reactor) Close() { r.in.Close() }

// Perceive asks the reactor goroutine for a perception of id.
func (r *Reactor) Perceive(ctx context.Context, id ids.ID) (world.Perception, error) {
	req := &perceiveReq{id: id, reply: make(chan perceiveResp, 1)}
	if !r.in.Push(job{perceive: req}) {
		return world.Perception{}, queue.ErrClosed
	}
	select {
	case <-ctx.Done():
		return world.Perception{}, ctx.Err()
	case resp := <-req.reply:
		return resp.p, resp.err
	}
}

// GameOver reports whether the world terminated or the tick limit was hit.
func (r *Reactor) GameOver() bool { return r.over.Load() }

func (r *Reactor) Run(ctx context.Context) error {
	for {
		j, err := r.in.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch {
		case j.perceive != nil:
			p, err := r.world.Perceive(j.perceive.id)
			j.perceive.reply <- perceiveResp{p: p, err: err}
		case j.batch != nil:
			if r.over.Load() {
				j.batch.Ack()
				continue
			}
			r.process(ctx, *j.batch)
		}
	}
}

// sortByPriority orders effects by their author's priority class. Effects of
// the same class keep their arrival order.
func sortByPriority(effects []world.Effect) []world.Effect {
	out := append([]world.Effect(nil), effects...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

func (r *Reactor) process(ctx context.Context, p dispatch.Payload) {
	rec := world.TickRecord{RunID: r.cfg.RunID, At: time.Now().UTC()}
	for _, e := range sortByPriority(p.Effects()) {
		er, removed := r.applyOne(e)
		rec.Effects = append(rec.Effects, er)
		rec.Removed = append(rec.Removed, removed...)
	}

	tick := r.clock.Advance()
	r.world.Tick(tick)
	r.ticks.Add(1)
	rec.Tick = tick

	over := r.world.Done() || (r.cfg.MaxTicks > 0 && tick >= r.cfg.MaxTicks)
	rec.Done = over

	if r.cfg.Sink != nil {
		if err := r.cfg.Sink.WriteTick(rec); err != nil {
			r.logger.Printf("reactor: tick %d: trace: %v", tick, err)
		}
	}
	for _, er := range rec.Effects {
		r.cfg.Bus.Publish(events.Event{Type: events.AgentAction, Tick: tick, Author: er.Author, Kind: er.Kind, Status: er.Status})
	}
	r.cfg.Bus.Publish(events.Event{Type: events.WorldProcessed, Tick: tick})
	if r.cfg.Verbose {
		r.logger.Printf("reactor: tick %d applied %d effects from unit %d", tick, len(rec.Effects), p.Unit())
	}

	if over {
		r.over.Store(true)
		r.logger.Printf("reactor: game over at tick %d", tick)
		r.cfg.Bus.Publish(events.Event{Type: events.GameOver, Tick: tick})
		if r.cfg.OnGameOver != nil {
			r.cfg.OnGameOver(tick)
		}
	}

	// Pacing is cut short on shutdown; the batch is acknowledged either way.
	_ = r.pace(ctx)
	p.Ack()
}

// applyOne gates e through the laws and applies it or its no-op equivalent.
func (r *Reactor) applyOne(e world.Effect) (world.EffectRecord, []ids.ID) {
	rec := world.EffectRecord{Author: e.Author(), Priority: e.Priority(), Kind: e.Kind()}
	target := e
	for _, law := range r.cfg.Laws {
		if !law.Applicable(e) || law.Validate(e) {
			continue
		}
		rec.Status = world.EffectRejected
		rec.Law = law.Name()
		target = r.world.NoOp(e)
		break
	}

	res, err := r.safeApply(target)
	if err != nil {
		r.failed.Add(1)
		if errors.Is(err, world.ErrVanished) {
			r.logger.Printf("reactor: %s of %s: %v", e.Kind(), e.Author(), err)
		} else {
			r.logger.Printf("reactor: apply %s of %s failed: %v", e.Kind(), e.Author(), err)
		}
		rec.Status = world.EffectFailed
		rec.Error = err.Error()
		return rec, nil
	}
	if rec.Status == world.EffectRejected {
		r.rejected.Add(1)
	} else {
		rec.Status = world.EffectApplied
		r.applied.Add(1)
	}
	rec.Event = res.Event

	var removed []ids.ID
	for _, id := range res.Removed {
		if r.cfg.Roster != nil && r.cfg.Roster.Remove(id) {
			removed = append(removed, id)
			r.removed.Add(1)
		}
	}
	return rec, removed
}

func (r *Reactor) safeApply(e world.Effect) (res world.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic applying %s: %v", e.Kind(), v)
		}
	}()
	return r.world.Apply(e)
}

func (r *Reactor) pace(ctx context.Context) error {
	if r.cfg.TickInterval <= 0 {
		return nil
	}
	wait := r.cfg.TickInterval - time.Since(r.lastTick)
	if wait > 0 && !r.lastTick.IsZero() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	r.lastTick = time.Now()
	return nil
}

type ReactorStats struct {
	Ticks           uint64 `json:"ticks"`
	EffectsApplied  uint64 `json:"effects_applied"`
	EffectsRejected uint64 `json:"effects_rejected"`
	EffectsFailed   uint64 `json:"effects_failed"`
	ActorsRemoved   uint64 `json:"actors_removed"`
	QueueDepth      int    `json:"queue_depth"`
}

func (r *Reactor) Stats() ReactorStats {
	return ReactorStats{
		Ticks:           r.ticks.Load(),
		EffectsApplied:  r.applied.Load(),
		EffectsRejected: r.rejected.Load(),
		EffectsFailed:   r.failed.Load(),
		ActorsRemoved:   r.removed.Load(),
		QueueDepth:      r.in.Len(),
	}
}
