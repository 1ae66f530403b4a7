package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/outcome"
)

// Activator is the registry side of unit resolution.
type Activator interface {
	AcquireLock(id ids.ID) error
	ReleaseLock(id ids.ID)
	Activate(id ids.ID, continueVote bool) error
}

// Unit groups the outcomes of mutually dependent actors. Membership changes
// only on the dispatcher goroutine and stops once the unit is sealed; the
// handled count is shared with the consumers.
type Unit struct {
	seq     uint64
	d       *Dispatcher
	members []outcome.Member
	index   map[ids.ID]int
	acted   int
	sealed  bool

	mu       sync.Mutex
	handled  int
	resolved bool

	// onAck replaces resolution in consumer tests.
	onAck func(n int)
}

func newUnit(d *Dispatcher, seq uint64) *Unit {
	return &Unit{d: d, seq: seq, index: map[ids.ID]int{}}
}

func (u *Unit) Seq() uint64 { return u.seq }

func (u *Unit) Len() int { return len(u.members) }

func (u *Unit) Acted() int { return u.acted }

func (u *Unit) Handled() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handled
}

// Members returns a copy of the ordered member list.
func (u *Unit) Members() []outcome.Member {
	return append([]outcome.Member(nil), u.members...)
}

func (u *Unit) IDs() []ids.ID {
	out := make([]ids.ID, 0, len(u.members))
	for _, m := range u.members {
		out = append(out, m.ID())
	}
	return out
}

func (u *Unit) contains(id ids.ID) bool {
	_, ok := u.index[id]
	return ok
}

// AllActed reports completion. A unit holding only placeholders never
// completes.
func (u *Unit) AllActed() bool {
	return len(u.members) > 0 && u.acted == len(u.members)
}

func (u *Unit) addPlaceholder(id ids.ID) bool {
	if u.contains(id) {
		return false
	}
	u.index[id] = len(u.members)
	u.members = append(u.members, outcome.Placeholder(id))
	return true
}

// integrate stores o, replacing its author's placeholder, then adds
// placeholders for every unseen dependency. It returns the ids newly added to
// the unit; ok is false when a genuine outcome of the author was already
// present and o was ignored.
func (u *Unit) integrate(o *outcome.Outcome) (added []ids.ID, ok bool) {
	author := o.Author()
	if i, seen := u.index[author]; seen {
		if !u.members[i].IsPlaceholder() {
			return nil, false
		}
		u.members[i] = outcome.Genuine(o)
	} else {
		u.index[author] = len(u.members)
		u.members = append(u.members, outcome.Genuine(o))
		added = append(added, author)
	}
	if o.Acted() {
		u.acted++
	}
	for _, dep := range o.Deps() {
		if u.addPlaceholder(dep) {
			added = append(added, dep)
		}
	}
	return added, true
}

// absorb moves every member of other into u, keeping other's order.
func (u *Unit) absorb(other *Unit) {
	for _, m := range other.members {
		if u.contains(m.ID()) {
			continue
		}
		u.index[m.ID()] = len(u.members)
		u.members = append(u.members, m)
		if m.Acted() {
			u.acted++
		}
	}
	other.members = nil
	other.index = map[ids.ID]int{}
	other.acted = 0
}

// partition splits the genuine outcomes by destination, preserving member
// order inside each partition.
func (u *Unit) partition() []Payload {
	var byDest [4][]*outcome.Outcome
	for _, m := range u.members {
		o := m.Outcome()
		if o == nil {
			continue
		}
		d := o.Destination()
		if d < 0 || int(d) >= len(byDest) {
			continue
		}
		byDest[d] = append(byDest[d], o)
	}
	var out []Payload
	for _, d := range []outcome.Destination{outcome.DestPerception, outcome.DestPostal, outcome.DestReactor} {
		if len(byDest[d]) == 0 {
			continue
		}
		out = append(out, Payload{Dest: d, Outcomes: byDest[d], unit: u})
	}
	return out
}

// RegisterAcknowledgement records n handled outcomes. The call that brings the
// handled count to the member count resolves the unit.
func (u *Unit) RegisterAcknowledgement(n int) {
	if u.onAck != nil {
		u.onAck(n)
		return
	}
	u.mu.Lock()
	u.handled += n
	done := !u.resolved && u.handled >= len(u.members)
	if done {
		u.resolved = true
	}
	u.mu.Unlock()
	if done {
		u.resolve()
	}
}

// ContinueVote is the AND of every member's vote.
func (u *Unit) ContinueVote() bool {
	for _, m := range u.members {
		if !m.Vote() {
			return false
		}
	}
	return true
}

// resolve locks every member, reactivates them all with the common vote and
// retires the unit. The retire request is queued before any member resumes,
// so the dispatcher drops the unit before it sees their next outcomes.
func (u *Unit) resolve() {
	d := u.d
	var locked []ids.ID
	for _, m := range u.members {
		if err := d.reg.AcquireLock(m.ID()); err != nil {
			d.logger.Printf("dispatch: unit %d: skip member %s: %v", u.seq, m.ID(), err)
			continue
		}
		locked = append(locked, m.ID())
	}
	vote := u.ContinueVote()
	d.retire(u)
	for _, id := range locked {
		if err := d.reg.Activate(id, vote); err != nil {
			d.logger.Printf("dispatch: unit %d: activate %s: %v", u.seq, id, err)
		}
	}
	for _, id := range locked {
		d.reg.ReleaseLock(id)
	}
	d.noteResolved(u, vote)
}

func (u *Unit) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unit#%d[", u.seq)
	for i, m := range u.members {
		if i > 0 {
			b.WriteByte(' ')
		}
		if m.IsPlaceholder() {
			fmt.Fprintf(&b, "?%s", m.ID())
		} else {
			fmt.Fprintf(&b, "%s:%s", m.ID(), m.Outcome().Kind())
		}
	}
	fmt.Fprintf(&b, "] acted=%d", u.acted)
	return b.String()
}
