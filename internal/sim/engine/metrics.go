package engine

import (
	"packetworld.ai/internal/sim/dispatch"
	"packetworld.ai/internal/sim/events"
	"packetworld.ai/internal/sim/handlers"
)

// Metrics is a read-only view of the run, safe to take from any goroutine.
type Metrics struct {
	RunID    string  `json:"run_id"`
	Tick     uint64  `json:"tick"`
	Actors   int     `json:"actors"`
	GameOver bool    `json:"game_over"`
	TickMS   float64 `json:"tick_ms"`

	Dispatch dispatch.Stats        `json:"dispatch"`
	Reactor  handlers.ReactorStats `json:"reactor"`

	PerceptionsAcked uint64 `json:"perceptions_acked"`
	MailsDelivered   uint64 `json:"mails_delivered"`
	MailsDropped     uint64 `json:"mails_dropped"`

	Events events.Stats `json:"events"`
}

func (e *Environment) Metrics() Metrics {
	if e == nil {
		return Metrics{}
	}
	m := Metrics{
		RunID:            e.runID,
		Tick:             e.clock.Now(),
		Actors:           e.reg.Len(),
		GameOver:         e.reactor.GameOver(),
		Dispatch:         e.dispatcher.Stats(),
		Reactor:          e.reactor.Stats(),
		PerceptionsAcked: e.perception.Acknowledged(),
		MailsDelivered:   e.postal.Delivered(),
		MailsDropped:     e.postal.Dropped(),
		Events:           e.bus.Stats(),
	}
	if t, ok := e.lastTick.Load().(tickTiming); ok {
		m.TickMS = t.ms
	}
	return m
}
