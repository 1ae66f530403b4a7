// Package registry owns the actor handles of a run: lookup by id and name,
// the per-actor exclusive locks and activation.
package registry

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
)

var ErrUnknownActor = errors.New("unknown actor")

// Handle is the registry's view of an actor.
type Handle interface {
	ID() ids.ID
	Name() string
	Priority() ids.Priority
	Inbox() *mail.Inbox
	// Activate advances the phase (or repeats it when continueVote is false)
	// and resumes the actor.
	Activate(continueVote bool)
	Stop()
}

type Registry struct {
	logger *log.Logger

	mu      sync.RWMutex
	handles map[ids.ID]Handle
	byName  map[string]ids.ID
	// Locks outlive removal so a holder can still release them.
	locks map[ids.ID]*sync.Mutex
}

func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		logger:  logger,
		handles: map[ids.ID]Handle{},
		byName:  map[string]ids.ID{},
		locks:   map[ids.ID]*sync.Mutex{},
	}
}

func (r *Registry) Add(h Handle) error {
	if h == nil {
		return fmt.Errorf("nil handle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.ID()]; ok {
		return fmt.Errorf("duplicate actor id %s", h.ID())
	}
	if name := h.Name(); name != "" {
		if other, ok := r.byName[name]; ok {
			return fmt.Errorf("duplicate actor name %q (%s and %s)", name, other, h.ID())
		}
		r.byName[name] = h.ID()
	}
	r.handles[h.ID()] = h
	if _, ok := r.locks[h.ID()]; !ok {
		r.locks[h.ID()] = &sync.Mutex{}
	}
	return nil
}

// Remove drops the actor and stops it. It reports whether the id was known.
func (r *Registry) Remove(id ids.ID) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
		if r.byName[h.Name()] == id {
			delete(r.byName, h.Name())
		}
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Printf("registry: remove %s: %v", id, ErrUnknownActor)
		return false
	}
	h.Stop()
	return true
}

func (r *Registry) Lookup(id ids.ID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

func (r *Registry) LookupName(name string) (ids.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Mailbox resolves a recipient name to its inbox.
func (r *Registry) Mailbox(name string) (*mail.Inbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.handles[id].Inbox(), true
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []ids.ID {
	r.mu.RLock()
	out := make([]ids.ID, 0, len(r.handles))
	for id := range r.handles {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handles returns the registered handles ordered by id.
func (r *Registry) Handles() []Handle {
	all := r.IDs()
	out := make([]Handle, 0, len(all))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range all {
		if h, ok := r.handles[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// AcquireLock blocks until the actor's exclusive lock is held. Unknown or
// removed actors are logged and reported with ErrUnknownActor; nothing is held
// in that case.
func (r *Registry) AcquireLock(id ids.ID) error {
	r.mu.RLock()
	_, live := r.handles[id]
	l := r.locks[id]
	r.mu.RUnlock()
	if !live || l == nil {
		r.logger.Printf("registry: lock %s: %v", id, ErrUnknownActor)
		return fmt.Errorf("lock %s: %w", id, ErrUnknownActor)
	}
	l.Lock()
	return nil
}

func (r *Registry) ReleaseLock(id ids.ID) {
	r.mu.RLock()
	l := r.locks[id]
	r.mu.RUnlock()
	if l == nil {
		r.logger.Printf("registry: release %s: %v", id, ErrUnknownActor)
		return
	}
	l.Unlock()
}

// Activate lets the actor advance (or repeat) its phase and resume.
func (r *Registry) Activate(id ids.ID, continueVote bool) error {
	h, ok := r.Lookup(id)
	if !ok {
		r.logger.Printf("registry: activate %s: %v", id, ErrUnknownActor)
		return fmt.Errorf("activate %s: %w", id, ErrUnknownActor)
	}
	h.Activate(continueVote)
	return nil
}
