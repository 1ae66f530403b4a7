package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
)

type fakeHandle struct {
	id    ids.ID
	name  string
	inbox mail.Inbox

	mu        sync.Mutex
	votes     []bool
	stopCalls int
}

func (h *fakeHandle) ID() ids.ID             { return h.id }
func (h *fakeHandle) Name() string           { return h.name }
func (h *fakeHandle) Priority() ids.Priority { return ids.PriorityAgent }
func (h *fakeHandle) Inbox() *mail.Inbox     { return &h.inbox }
func (h *fakeHandle) Activate(v bool) {
	h.mu.Lock()
	h.votes = append(h.votes, v)
	h.mu.Unlock()
}
func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stopCalls++
	h.mu.Unlock()
}

func TestRegistry_AddLookupRemove(t *testing.T) {
	r := New(nil)
	a := &fakeHandle{id: 2, name: "alice"}
	b := &fakeHandle{id: 1, name: "bob"}
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	assert.Error(t, r.Add(&fakeHandle{id: 2, name: "carol"}), "duplicate id")
	assert.Error(t, r.Add(&fakeHandle{id: 3, name: "bob"}), "duplicate name")

	assert.Equal(t, []ids.ID{1, 2}, r.IDs())
	id, ok := r.LookupName("alice")
	assert.True(t, ok)
	assert.Equal(t, ids.ID(2), id)
	box, ok := r.Mailbox("bob")
	require.True(t, ok)
	assert.Same(t, b.Inbox(), box)

	require.True(t, r.Remove(2), "remove reported unknown")
	assert.Equal(t, 1, a.stopCalls)
	_, ok = r.LookupName("alice")
	assert.False(t, ok, "name survived removal")
	assert.False(t, r.Remove(2), "second remove should report unknown")
}

func TestRegistry_ActivateUnknownIsNoOp(t *testing.T) {
	r := New(nil)
	assert.ErrorIs(t, r.Activate(9, true), ErrUnknownActor)
	assert.ErrorIs(t, r.AcquireLock(9), ErrUnknownActor)
	r.ReleaseLock(9)
}

func TestRegistry_ActivatePassesVote(t *testing.T) {
	r := New(nil)
	h := &fakeHandle{id: 1, name: "a"}
	require.NoError(t, r.Add(h))
	require.NoError(t, r.Activate(1, false))
	assert.Equal(t, []bool{false}, h.votes)
}

func TestRegistry_LockIsExclusiveAndSurvivesRemoval(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Add(&fakeHandle{id: 1, name: "a"}))
	require.NoError(t, r.AcquireLock(1))

	acquired := make(chan error, 1)
	go func() { acquired <- r.AcquireLock(1) }()
	select {
	case <-acquired:
		require.Fail(t, "second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	r.ReleaseLock(1)
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "second lock never acquired")
	}

	r.Remove(1)
	r.ReleaseLock(1)
	assert.ErrorIs(t, r.AcquireLock(1), ErrUnknownActor, "lock after removal")
}
