package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/persistence/indexdb"
	"packetworld.ai/internal/sim/engine"
	"packetworld.ai/internal/sim/handlers"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/tuning"
	"packetworld.ai/internal/sim/world"
)

type recTick struct {
	n   int
	err error
}

func (r *recTick) WriteTick(world.TickRecord) error {
	r.n++
	return r.err
}

type recMail struct{ got []mail.Mail }

func (r *recMail) WriteMail(_ uint64, m mail.Mail) { r.got = append(r.got, m) }

func TestTickSinks_WritesAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recTick{err: boom}, &recTick{}
	sinks := tickSinks{a, b}

	err := sinks.WriteTick(world.TickRecord{Tick: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
	assert.NoError(t, (tickSinks{}).WriteTick(world.TickRecord{}))
}

func TestMailSinks_FanOut(t *testing.T) {
	a, b := &recMail{}, &recMail{}
	var sink handlers.MailSink = mailSinks{a, b}
	sink.WriteMail(3, mail.Mail{From: "x", To: "y", Body: "z"})
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := engine.Metrics{RunID: "r1", Tick: 12, Actors: 3, GameOver: true}
	m.Reactor.EffectsApplied = 30
	writeMetrics(&buf, m, indexdb.Stats{DropTickTotal: 1, DropMailTotal: 2}, 4)

	out := buf.String()
	for _, want := range []string{
		`packetworld_tick{run="r1"} 12`,
		`packetworld_game_over{run="r1"} 1`,
		`packetworld_effects_total{run="r1",status="APPLIED"} 30`,
		`packetworld_observers{run="r1"} 4`,
		`packetworld_index_dropped_total{run="r1"} 3`,
	} {
		assert.Contains(t, out, want)
	}
}

func TestAgentInfos(t *testing.T) {
	infos := agentInfos(tuning.Demo())
	require.Len(t, infos, 6)
	assert.Equal(t, 1, infos[0].ID)
	assert.Equal(t, "AGENT", infos[0].Priority)
	assert.Equal(t, "OTHER", infos[3].Priority)
	assert.Equal(t, "wander", infos[3].Behavior)

	assert.Equal(t, 5, infos[4].ID)
	assert.Equal(t, "ENERGY_STATION", infos[4].Priority)
	assert.Equal(t, "station", infos[4].Behavior)
	assert.Equal(t, "GENERATOR", infos[5].Priority)
	assert.Equal(t, "generator", infos[5].Behavior)
}
