package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/outcome"
	"packetworld.ai/internal/sim/registry"
)

type activation struct {
	id   ids.ID
	vote bool
}

type fakeRegistry struct {
	mu          sync.Mutex
	unknown     map[ids.ID]bool
	held        map[ids.ID]bool
	activations []activation
	releases    int
}

func newFakeRegistry(unknown ...ids.ID) *fakeRegistry {
	r := &fakeRegistry{unknown: map[ids.ID]bool{}, held: map[ids.ID]bool{}}
	for _, id := range unknown {
		r.unknown[id] = true
	}
	return r
}

func (r *fakeRegistry) AcquireLock(id ids.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unknown[id] {
		return registry.ErrUnknownActor
	}
	r.held[id] = true
	return nil
}

func (r *fakeRegistry) ReleaseLock(id ids.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
	r.releases++
}

func (r *fakeRegistry) Activate(id ids.ID, vote bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.held[id] {
		panic("activate without lock")
	}
	r.activations = append(r.activations, activation{id: id, vote: vote})
	return nil
}

func (r *fakeRegistry) snapshot() []activation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activation(nil), r.activations...)
}

// recorder keeps deposited payloads; acks are left to the test unless auto is set.
type recorder struct {
	mu       sync.Mutex
	auto     bool
	payloads []Payload
}

func (c *recorder) Deposit(p Payload) {
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	auto := c.auto
	c.mu.Unlock()
	if auto {
		go p.Ack()
	}
}

func (c *recorder) taken() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.payloads
	c.payloads = nil
	return out
}

type fixture struct {
	d          *Dispatcher
	reg        *fakeRegistry
	perception *recorder
	postal     *recorder
	reactor    *recorder
}

func newFixture(t *testing.T, auto bool, unknown ...ids.ID) *fixture {
	t.Helper()
	f := &fixture{
		reg:        newFakeRegistry(unknown...),
		perception: &recorder{auto: auto},
		postal:     &recorder{auto: auto},
		reactor:    &recorder{auto: auto},
	}
	d, err := New(Config{
		Registry: f.reg,
		Consumers: map[outcome.Destination]Consumer{
			outcome.DestPerception: f.perception,
			outcome.DestPostal:     f.postal,
			outcome.DestReactor:    f.reactor,
		},
	})
	require.NoError(t, err)
	f.d = d
	return f
}

func (f *fixture) ackAll() {
	for _, c := range []*recorder{f.perception, f.postal, f.reactor} {
		for _, p := range c.taken() {
			p.Ack()
		}
	}
}

// drainRetired applies queued retire requests the way Run would.
func (f *fixture) drainRetired(t *testing.T) {
	t.Helper()
	for {
		it, ok := f.d.inbox.TryPop()
		if !ok {
			return
		}
		require.NotNil(t, it.retire, "unexpected outcome in inbox")
		f.d.drop(it.retire)
	}
}

func seedUnit(d *Dispatcher, members ...ids.ID) *Unit {
	d.nextSeq++
	u := newUnit(d, d.nextSeq)
	for _, id := range members {
		u.addPlaceholder(id)
		d.owner[id] = u
	}
	d.units[u.seq] = u
	return u
}

type effect struct {
	author ids.ID
}

func (e effect) Author() ids.ID         { return e.author }
func (e effect) Priority() ids.Priority { return ids.PriorityAgent }
func (e effect) Kind() string           { return "test" }

func liveUnits(d *Dispatcher) []*Unit {
	var out []*Unit
	for _, u := range d.units {
		if !u.sealed {
			out = append(out, u)
		}
	}
	return out
}

func checkPartition(t *testing.T, d *Dispatcher) {
	t.Helper()
	seen := map[ids.ID]uint64{}
	for _, u := range liveUnits(d) {
		for _, m := range u.members {
			if prev, dup := seen[m.ID()]; dup {
				require.Failf(t, "actor in two live units", "%s in unit %d and %d", m.ID(), prev, u.seq)
			}
			seen[m.ID()] = u.seq
			require.Same(t, u, d.owner[m.ID()], "owner of %s", m.ID())
			if o := m.Outcome(); o != nil {
				for _, dep := range o.Deps() {
					require.True(t, u.contains(dep), "dep %s of %s outside unit %d", dep, m.ID(), u.seq)
				}
			}
		}
	}
	for id, u := range d.owner {
		require.Contains(t, d.units, u.seq, "owner of %s points at a dropped unit", id)
		require.False(t, u.sealed, "owner of %s points at a sealed unit", id)
	}
}

func TestDispatcher_PartitionInvariantUnderRandomOutcomes(t *testing.T) {
	f := newFixture(t, false)
	rng := rand.New(rand.NewSource(7))
	submitted := map[ids.ID]bool{}
	for step := 0; step < 200; step++ {
		author := ids.ID(rng.Intn(40))
		if submitted[author] {
			continue
		}
		submitted[author] = true
		var deps []ids.ID
		for i := rng.Intn(3); i > 0; i-- {
			deps = append(deps, ids.ID(rng.Intn(40)))
		}
		f.d.route(outcome.Perception(author, deps))
		checkPartition(t, f.d)
	}
}

func TestDispatcher_MergeBridgesUnits(t *testing.T) {
	f := newFixture(t, false)
	a := seedUnit(f.d, 1)
	b := seedUnit(f.d, 2)
	c := seedUnit(f.d, 3)

	f.d.route(outcome.Action(4, []ids.ID{1, 3}, effect{author: 4}))

	assert.Equal(t, []ids.ID{1, 3, 4}, a.IDs())
	assert.Equal(t, 1, a.Acted())
	assert.Equal(t, []ids.ID{2}, b.IDs())
	assert.NotContains(t, f.d.units, c.seq)
	assert.Same(t, a, f.d.owner[3])
	assert.Same(t, b, f.d.owner[2])
	assert.Equal(t, uint64(1), f.d.Stats().UnitsMerged)
	checkPartition(t, f.d)
}

func TestDispatcher_MergeOfGenuineMembersKeepsActedCount(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Perception(1, []ids.ID{10}))
	f.d.route(outcome.Perception(2, []ids.ID{20}))
	f.d.route(outcome.Perception(3, []ids.ID{10, 20}))

	require.Len(t, liveUnits(f.d), 1)
	u := liveUnits(f.d)[0]
	assert.Equal(t, []ids.ID{1, 10, 2, 20, 3}, u.IDs())
	assert.Equal(t, 3, u.Acted())
	assert.False(t, u.AllActed())
}

func TestDispatcher_PlaceholderReplacedInPlace(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Perception(1, []ids.ID{2}))
	u := f.d.owner[2]
	require.NotNil(t, u)
	assert.Equal(t, 1, u.Acted())
	assert.True(t, u.Members()[1].IsPlaceholder())

	f.d.route(outcome.Perception(2, []ids.ID{1}))
	assert.Equal(t, []ids.ID{1, 2}, u.IDs())
	assert.Equal(t, 2, u.Acted())
	assert.False(t, u.Members()[1].IsPlaceholder())
	assert.True(t, u.sealed)
}

func TestDispatcher_SecondGenuineOutcomeIsIgnored(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Perception(1, []ids.ID{2}))
	f.d.route(outcome.Perception(1, []ids.ID{2}))

	u := f.d.owner[1]
	assert.Equal(t, 2, u.Len())
	assert.Equal(t, 1, u.Acted())
	assert.Equal(t, uint64(1), f.d.Stats().OutcomesIgnored)
}

func TestUnit_PlaceholderOnlyNeverCompletes(t *testing.T) {
	u := newUnit(nil, 1)
	assert.False(t, u.AllActed(), "empty unit")
	u.addPlaceholder(5)
	u.addPlaceholder(6)
	assert.False(t, u.AllActed())
	assert.Equal(t, 0, u.Acted())
}

func TestDispatcher_CompletionIsMonotonic(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Perception(1, []ids.ID{2}))
	f.d.route(outcome.Perception(2, nil))
	sealed := f.d.owner[1]
	require.Nil(t, sealed, "complete unit must not be routable")

	require.Len(t, f.d.units, 1)
	var u *Unit
	for _, x := range f.d.units {
		u = x
	}
	require.True(t, u.AllActed())

	// A late outcome naming a member of the complete unit starts a new unit.
	f.d.route(outcome.Perception(3, []ids.ID{1}))
	assert.True(t, u.AllActed())
	assert.Equal(t, []ids.ID{1, 2}, u.IDs())
	assert.Equal(t, 2, u.Acted())
	assert.Len(t, f.d.units, 2)
	checkPartition(t, f.d)
}

func TestDispatcher_PartitionsByDestination(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Perception(1, []ids.ID{2, 3}))
	f.d.route(outcome.Communication(2, []ids.ID{1}, nil, false))
	f.d.route(outcome.Action(3, []ids.ID{1}, effect{author: 3}))

	perc, post, react := f.perception.taken(), f.postal.taken(), f.reactor.taken()
	require.Len(t, perc, 1)
	require.Len(t, post, 1)
	require.Len(t, react, 1)
	assert.Equal(t, []ids.ID{1}, perc[0].Authors())
	assert.Equal(t, 1, post[0].Count(), "a mail partition without mail still accounts for its outcome")
	assert.Len(t, react[0].Effects(), 1)

	perc[0].Ack()
	post[0].Ack()
	assert.Empty(t, f.reg.snapshot(), "unit resolved before every partition was acknowledged")
	react[0].Ack()
	assert.Len(t, f.reg.snapshot(), 3)
}

func TestDispatcher_VoteAggregation(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Communication(1, []ids.ID{2, 3}, nil, false))
	f.d.route(outcome.Communication(2, []ids.ID{1, 3}, nil, false))
	f.d.route(outcome.Communication(3, []ids.ID{1, 2}, nil, true))
	f.ackAll()

	acts := f.reg.snapshot()
	require.Len(t, acts, 3)
	for _, a := range acts {
		assert.False(t, a.vote, "member %s advanced despite a false vote", a.id)
	}
	f.drainRetired(t)
	assert.Empty(t, f.d.units)
	st := f.d.Stats()
	assert.Equal(t, uint64(1), st.UnitsResolved)
	assert.Equal(t, uint64(1), st.UnitsRepeated)
	assert.Equal(t, uint64(0), st.ActiveUnits)
}

func TestDispatcher_RetireIsQueuedBeforeActivation(t *testing.T) {
	f := newFixture(t, false)
	f.d.route(outcome.Perception(1, nil))
	for _, p := range f.perception.taken() {
		p.Ack()
	}
	require.Len(t, f.reg.snapshot(), 1)
	// The member was activated; its next outcome queues behind the retire.
	f.d.Submit(outcome.Communication(1, nil, nil, false))
	it, ok := f.d.inbox.TryPop()
	require.True(t, ok)
	assert.NotNil(t, it.retire)
}

func TestDispatcher_UnknownMemberIsSkippedAtResolution(t *testing.T) {
	f := newFixture(t, false, 2)
	f.d.route(outcome.Perception(1, []ids.ID{2}))
	f.d.route(outcome.Perception(2, []ids.ID{1}))
	f.ackAll()

	acts := f.reg.snapshot()
	require.Len(t, acts, 1)
	assert.Equal(t, ids.ID(1), acts[0].id)
	assert.Equal(t, 1, f.reg.releases)
}

func TestDispatcher_RunEndToEnd(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(id ids.ID) {
			defer wg.Done()
			f.d.Submit(outcome.Perception(id, ids.Without([]ids.ID{1, 2, 3, 4, 5}, id)))
		}(ids.ID(i))
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(f.reg.snapshot()) == 5 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.d.Stats().UnitsRetired == 1 }, 2*time.Second, 5*time.Millisecond)
	st := f.d.Stats()
	assert.Equal(t, uint64(5), st.OutcomesProcessed)
	assert.Equal(t, uint64(0), st.ActiveUnits)

	f.d.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not return after close")
	}
}
