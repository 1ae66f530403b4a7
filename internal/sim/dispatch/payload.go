package dispatch

import (
	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/outcome"
	"packetworld.ai/internal/sim/world"
)

// Payload is the share of a complete unit handed to one consumer. Ack must be
// called exactly once after the payload was processed.
type Payload struct {
	Dest     outcome.Destination
	Outcomes []*outcome.Outcome

	unit *Unit
}

// Count is the number of outcomes the payload accounts for.
func (p Payload) Count() int { return len(p.Outcomes) }

func (p Payload) Unit() uint64 {
	if p.unit == nil {
		return 0
	}
	return p.unit.Seq()
}

func (p Payload) Authors() []ids.ID {
	out := make([]ids.ID, 0, len(p.Outcomes))
	for _, o := range p.Outcomes {
		out = append(out, o.Author())
	}
	return out
}

// Effects returns the proposed effects in arrival order.
func (p Payload) Effects() []world.Effect {
	out := make([]world.Effect, 0, len(p.Outcomes))
	for _, o := range p.Outcomes {
		if e := o.Effect(); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// MailBatches returns the mail of each outcome, one batch per author.
func (p Payload) MailBatches() [][]mail.Mail {
	out := make([][]mail.Mail, 0, len(p.Outcomes))
	for _, o := range p.Outcomes {
		out = append(out, o.Mails())
	}
	return out
}

func (p Payload) Ack() {
	if p.unit != nil {
		p.unit.RegisterAcknowledgement(p.Count())
	}
}

// Consumer accepts payloads without blocking the dispatcher.
type Consumer interface {
	Deposit(p Payload)
}

// NewTestPayload builds a payload that acknowledges through ack. Consumers use
// it in their own tests.
func NewTestPayload(dest outcome.Destination, outs []*outcome.Outcome, ack func(n int)) Payload {
	u := &Unit{onAck: ack}
	return Payload{Dest: dest, Outcomes: outs, unit: u}
}
