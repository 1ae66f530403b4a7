package actor

import (
	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/world"
)

// Behavior is the decision logic of an actor. One Behavior value serves one
// actor, so implementations may keep memory across turns without locking.
type Behavior interface {
	// Communicate may Send mail and ask for another round with Again.
	Communicate(t *Turn) error
	// Act must Propose exactly one effect.
	Act(t *Turn) error
}

// Turn is the working state of one perceive, communicate, act cycle.
type Turn struct {
	Self     ids.ID
	Name     string
	Priority ids.Priority
	Tick     uint64
	// Round counts communication rounds of this turn, starting at 0.
	Round      int
	Perception world.Perception
	// Received accumulates mail delivered during this turn.
	Received []mail.Mail

	sent      []mail.Mail
	again     bool
	proposals []world.Effect
}

func (t *Turn) Send(to, body string) {
	t.sent = append(t.sent, mail.Mail{From: t.Name, To: to, Body: body})
}

// Again asks the unit for another communication round.
func (t *Turn) Again() { t.again = true }

func (t *Turn) Propose(e world.Effect) {
	t.proposals = append(t.proposals, e)
}

func (t *Turn) resetRound() {
	t.sent = nil
	t.again = false
	t.proposals = nil
}

// Sent returns the mail queued in the current round.
func (t *Turn) Sent() []mail.Mail { return append([]mail.Mail(nil), t.sent...) }

func (t *Turn) AskedAgain() bool { return t.again }

// Proposals returns the effects proposed in the current action phase.
func (t *Turn) Proposals() []world.Effect { return append([]world.Effect(nil), t.proposals...) }
