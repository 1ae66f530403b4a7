// Package outcome defines the record an actor emits when it completes a phase.
package outcome

import (
	"fmt"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/world"
)

// Destination names the consumer that handles an outcome once its unit is complete.
type Destination int

const (
	DestNone Destination = iota
	DestPerception
	DestPostal
	DestReactor
)

func (d Destination) String() string {
	switch d {
	case DestPerception:
		return "perception"
	case DestPostal:
		return "postal"
	case DestReactor:
		return "reactor"
	default:
		return "none"
	}
}

type Kind string

const (
	KindPerception    Kind = "perception"
	KindCommunication Kind = "communication"
	KindAction        Kind = "action"
)

// Outcome is immutable after construction. Fields are unexported so the
// dependency set and mail batch cannot be changed behind the dispatcher's back.
type Outcome struct {
	author ids.ID
	kind   Kind
	acted  bool
	deps   []ids.ID
	dest   Destination
	mails  []mail.Mail
	effect world.Effect
	vote   bool
}

func Perception(author ids.ID, deps []ids.ID) *Outcome {
	return &Outcome{author: author, kind: KindPerception, acted: true, deps: snapshot(author, deps), dest: DestPerception, vote: true}
}

// Communication carries the mail an actor sent this round. again=true asks the
// unit for another communication round, which is a vote against advancing.
func Communication(author ids.ID, deps []ids.ID, mails []mail.Mail, again bool) *Outcome {
	var batch []mail.Mail
	if len(mails) > 0 {
		batch = append(batch, mails...)
	}
	return &Outcome{author: author, kind: KindCommunication, acted: true, deps: snapshot(author, deps), dest: DestPostal, mails: batch, vote: !again}
}

func Action(author ids.ID, deps []ids.ID, eff world.Effect) *Outcome {
	return &Outcome{author: author, kind: KindAction, acted: true, deps: snapshot(author, deps), dest: DestReactor, effect: eff, vote: true}
}

func snapshot(author ids.ID, deps []ids.ID) []ids.ID {
	return ids.Sorted(ids.Without(deps, author))
}

func (o *Outcome) Author() ids.ID           { return o.author }
func (o *Outcome) Kind() Kind               { return o.kind }
func (o *Outcome) Acted() bool              { return o.acted }
func (o *Outcome) Destination() Destination { return o.dest }
func (o *Outcome) Effect() world.Effect     { return o.effect }
func (o *Outcome) Vote() bool               { return o.vote }
func (o *Outcome) Deps() []ids.ID           { return append([]ids.ID(nil), o.deps...) }
func (o *Outcome) Mails() []mail.Mail       { return append([]mail.Mail(nil), o.mails...) }
func (o *Outcome) NumMails() int            { return len(o.mails) }
func (o *Outcome) String() string {
	return fmt.Sprintf("%s outcome of %s deps=%v", o.kind, o.author, o.deps)
}

// Member is an entry of a grouping unit: either a placeholder for an id that
// was named in someone's dependency set, or the genuine outcome of that id.
type Member struct {
	id      ids.ID
	outcome *Outcome
}

func Placeholder(id ids.ID) Member { return Member{id: id} }

func Genuine(o *Outcome) Member { return Member{id: o.author, outcome: o} }

func (m Member) ID() ids.ID          { return m.id }
func (m Member) IsPlaceholder() bool { return m.outcome == nil }
func (m Member) Outcome() *Outcome   { return m.outcome }

// Acted reports whether the member counts toward unit completion.
func (m Member) Acted() bool { return m.outcome != nil && m.outcome.acted }

// Vote is true for placeholders; they never reach activation anyway.
func (m Member) Vote() bool { return m.outcome == nil || m.outcome.vote }
