package main

import (
	"fmt"
	"io"

	"packetworld.ai/internal/persistence/indexdb"
	"packetworld.ai/internal/sim/engine"
)

// writeMetrics renders m in the Prometheus text exposition format.
func writeMetrics(w io.Writer, m engine.Metrics, idx indexdb.Stats, observers int64) {
	run := m.RunID

	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s{run=%q} %v\n", name, run, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s{run=%q} %d\n", name, run, v)
	}

	gauge("packetworld_tick", "Current clock value.", m.Tick)
	gauge("packetworld_actors", "Registered actors.", m.Actors)
	gameOver := 0
	if m.GameOver {
		gameOver = 1
	}
	gauge("packetworld_game_over", "1 once the world reported termination.", gameOver)
	gauge("packetworld_tick_ms", "Wall time between the last two ticks in milliseconds.", fmt.Sprintf("%.3f", m.TickMS))
	gauge("packetworld_active_units", "Grouping units not yet retired.", m.Dispatch.ActiveUnits)
	gauge("packetworld_observers", "Connected websocket observers.", observers)

	fmt.Fprintf(w, "# HELP packetworld_queue_depth Pending items per queue.\n")
	fmt.Fprintf(w, "# TYPE packetworld_queue_depth gauge\n")
	fmt.Fprintf(w, "packetworld_queue_depth{run=%q,queue=%q} %d\n", run, "dispatcher", m.Dispatch.QueueDepth)
	fmt.Fprintf(w, "packetworld_queue_depth{run=%q,queue=%q} %d\n", run, "reactor", m.Reactor.QueueDepth)
	fmt.Fprintf(w, "packetworld_queue_depth{run=%q,queue=%q} %d\n", run, "index", idx.QueueDepth)

	fmt.Fprintf(w, "# HELP packetworld_effects_total Effects by reactor status.\n")
	fmt.Fprintf(w, "# TYPE packetworld_effects_total counter\n")
	fmt.Fprintf(w, "packetworld_effects_total{run=%q,status=%q} %d\n", run, "APPLIED", m.Reactor.EffectsApplied)
	fmt.Fprintf(w, "packetworld_effects_total{run=%q,status=%q} %d\n", run, "REJECTED", m.Reactor.EffectsRejected)
	fmt.Fprintf(w, "packetworld_effects_total{run=%q,status=%q} %d\n", run, "FAILED", m.Reactor.EffectsFailed)

	counter("packetworld_outcomes_total", "Outcomes routed by the dispatcher.", m.Dispatch.OutcomesProcessed)
	counter("packetworld_outcomes_ignored_total", "Duplicate outcomes ignored by the dispatcher.", m.Dispatch.OutcomesIgnored)
	counter("packetworld_units_merged_total", "Grouping unit merges.", m.Dispatch.UnitsMerged)
	counter("packetworld_units_resolved_total", "Grouping units resolved.", m.Dispatch.UnitsResolved)
	counter("packetworld_actors_removed_total", "Actors removed by the world.", m.Reactor.ActorsRemoved)
	counter("packetworld_perceptions_total", "Perception outcomes acknowledged.", m.PerceptionsAcked)
	counter("packetworld_mails_delivered_total", "Mails delivered to inboxes.", m.MailsDelivered)
	counter("packetworld_mails_dropped_total", "Mails dropped for unknown recipients.", m.MailsDropped)
	counter("packetworld_events_dropped_total", "Bus events lost to slow subscribers.", m.Events.Dropped)
	counter("packetworld_index_dropped_total", "Index writes dropped on a full queue.", idx.DropTickTotal+idx.DropMailTotal)
}
