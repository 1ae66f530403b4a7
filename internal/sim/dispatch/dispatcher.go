// Package dispatch groups outcomes into units of mutually dependent actors and
// hands complete units to the consumers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/outcome"
	"packetworld.ai/internal/sim/queue"
)

type Config struct {
	Registry  Activator
	Consumers map[outcome.Destination]Consumer
	Logger    *log.Logger
	// Verbose logs unit membership on every change.
	Verbose bool
	// OnResolved, if set, is called after a unit reactivated its members.
	OnResolved func(u *Unit, vote bool)
}

// item is either an outcome to route or a unit to retire.
type item struct {
	out    *outcome.Outcome
	retire *Unit
}

type Dispatcher struct {
	reg        Activator
	consumers  map[outcome.Destination]Consumer
	logger     *log.Logger
	verbose    bool
	onResolved func(u *Unit, vote bool)

	inbox *queue.Queue[item]

	// Owned by the Run goroutine.
	owner   map[ids.ID]*Unit
	units   map[uint64]*Unit
	nextSeq uint64

	outcomes atomic.Uint64
	created  atomic.Uint64
	merged   atomic.Uint64
	resolved atomic.Uint64
	repeated atomic.Uint64
	retired  atomic.Uint64
	ignored  atomic.Uint64
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	for _, d := range []outcome.Destination{outcome.DestPerception, outcome.DestPostal, outcome.DestReactor} {
		if cfg.Consumers[d] == nil {
			return nil, fmt.Errorf("dispatch: no consumer for %s", d)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	consumers := make(map[outcome.Destination]Consumer, len(cfg.Consumers))
	for d, c := range cfg.Consumers {
		consumers[d] = c
	}
	return &Dispatcher{
		reg:        cfg.Registry,
		consumers:  consumers,
		logger:     logger,
		verbose:    cfg.Verbose,
		onResolved: cfg.OnResolved,
		inbox:      queue.New[item](),
		owner:      map[ids.ID]*Unit{},
		units:      map[uint64]*Unit{},
	}, nil
}

// Submit is safe for concurrent use.
func (d *Dispatcher) Submit(o *outcome.Outcome) {
	if o == nil {
		return
	}
	if !d.inbox.Push(item{out: o}) {
		d.logger.Printf("dispatch: closed, dropping %s", o)
	}
}

func (d *Dispatcher) retire(u *Unit) {
	d.inbox.Push(item{retire: u})
}

// Close stops accepting outcomes; Run returns once the inbox is drained.
func (d *Dispatcher) Close() { d.inbox.Close() }

// Run processes outcomes one at a time in arrival order.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		it, err := d.inbox.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if it.retire != nil {
			d.drop(it.retire)
			continue
		}
		d.route(it.out)
	}
}

// route places o into the unit of its author or dependencies, merging units
// bridged by o, and hands the unit off once complete.
func (d *Dispatcher) route(o *outcome.Outcome) {
	d.outcomes.Add(1)

	candidates := append([]ids.ID{o.Author()}, o.Deps()...)
	var found []*Unit
	seen := map[uint64]bool{}
	for _, id := range candidates {
		u, ok := d.owner[id]
		if !ok || seen[u.seq] {
			continue
		}
		seen[u.seq] = true
		found = append(found, u)
	}

	var u *Unit
	switch len(found) {
	case 0:
		d.nextSeq++
		u = newUnit(d, d.nextSeq)
		d.units[u.seq] = u
		d.created.Add(1)
	default:
		u = found[0]
		for _, other := range found[1:] {
			d.merge(u, other)
		}
	}

	added, ok := u.integrate(o)
	if !ok {
		d.ignored.Add(1)
		d.logger.Printf("dispatch: %s already has an outcome in unit %d, ignoring %s", o.Author(), u.seq, o.Kind())
		return
	}
	for _, id := range added {
		d.owner[id] = u
	}
	if d.verbose {
		d.logger.Printf("dispatch: %s -> %s", o, u)
	}

	if u.AllActed() {
		d.handleFull(u)
	}
}

func (d *Dispatcher) merge(into, other *Unit) {
	for _, id := range other.IDs() {
		d.owner[id] = into
	}
	into.absorb(other)
	delete(d.units, other.seq)
	d.merged.Add(1)
	if d.verbose {
		d.logger.Printf("dispatch: merged unit %d into %d", other.seq, into.seq)
	}
}

// handleFull seals u and deposits one payload per non-empty partition. Sealed
// units are no longer found by routing.
func (d *Dispatcher) handleFull(u *Unit) {
	u.sealed = true
	for _, id := range u.IDs() {
		if d.owner[id] == u {
			delete(d.owner, id)
		}
	}
	for _, p := range u.partition() {
		d.consumers[p.Dest].Deposit(p)
	}
}

func (d *Dispatcher) drop(u *Unit) {
	if _, ok := d.units[u.seq]; !ok {
		return
	}
	delete(d.units, u.seq)
	d.retired.Add(1)
	if d.verbose {
		d.logger.Printf("dispatch: retired %s", u)
	}
}

func (d *Dispatcher) noteResolved(u *Unit, vote bool) {
	d.resolved.Add(1)
	if !vote {
		d.repeated.Add(1)
	}
	if d.onResolved != nil {
		d.onResolved(u, vote)
	}
}

type Stats struct {
	OutcomesProcessed uint64 `json:"outcomes_processed"`
	UnitsCreated      uint64 `json:"units_created"`
	UnitsMerged       uint64 `json:"units_merged"`
	UnitsResolved     uint64 `json:"units_resolved"`
	UnitsRepeated     uint64 `json:"units_repeated"`
	UnitsRetired      uint64 `json:"units_retired"`
	ActiveUnits       uint64 `json:"active_units"`
	OutcomesIgnored   uint64 `json:"outcomes_ignored"`
	QueueDepth        int    `json:"queue_depth"`
}

func (d *Dispatcher) Stats() Stats {
	created, merged, retired := d.created.Load(), d.merged.Load(), d.retired.Load()
	var active uint64
	if created > merged+retired {
		active = created - merged - retired
	}
	return Stats{
		OutcomesProcessed: d.outcomes.Load(),
		UnitsCreated:      created,
		UnitsMerged:       merged,
		UnitsResolved:     d.resolved.Load(),
		UnitsRepeated:     d.repeated.Load(),
		UnitsRetired:      retired,
		ActiveUnits:       active,
		OutcomesIgnored:   d.ignored.Load(),
		QueueDepth:        d.inbox.Len(),
	}
}
