package handlers

import (
	"context"
	"io"
	"log"
	"math/rand/v2"
	"sync/atomic"

	"packetworld.ai/internal/sim/dispatch"
	"packetworld.ai/internal/sim/events"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/queue"
)

// Directory resolves recipient names.
type Directory interface {
	Mailbox(name string) (*mail.Inbox, bool)
}

// MailSink records delivered mail, e.g. into the index database.
type MailSink interface {
	WriteMail(tick uint64, m mail.Mail)
}

// TickSource reads the current world tick.
type TickSource interface {
	Now() uint64
}

type PostalConfig struct {
	Directory Directory
	Clock     TickSource
	Bus       *events.Bus
	Sink      MailSink
	Seed      uint64
	Logger    *log.Logger
	Verbose   bool
}

// Postal delivers communication payloads to the recipients' inboxes. Senders
// are served round-robin starting from a random one, one mail per turn.
type Postal struct {
	dir     Directory
	clock   TickSource
	bus     *events.Bus
	sink    MailSink
	logger  *log.Logger
	verbose bool
	rng     *rand.Rand

	in *queue.Queue[dispatch.Payload]

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewPostal(cfg PostalConfig) *Postal {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Postal{
		dir:     cfg.Directory,
		clock:   cfg.Clock,
		bus:     cfg.Bus,
		sink:    cfg.Sink,
		logger:  logger,
		verbose: cfg.Verbose,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		in:      queue.New[dispatch.Payload](),
	}
}

func (h *Postal) Deposit(p dispatch.Payload) { h.in.Push(p) }

func (h *Postal) Close() { h.in.Close() }

func (h *Postal) Delivered() uint64 { return h.delivered.Load() }

func (h *Postal) Dropped() uint64 { return h.dropped.Load() }

func (h *Postal) Run(ctx context.Context) error {
	return drain(ctx, h.in, h.process)
}

func (h *Postal) process(p dispatch.Payload) {
	for _, m := range h.order(p.MailBatches()) {
		h.deliver(m)
	}
	p.Ack()
}

// order interleaves the batches round-robin, starting at a random batch.
func (h *Postal) order(batches [][]mail.Mail) []mail.Mail {
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total == 0 {
		return nil
	}
	out := make([]mail.Mail, 0, total)
	next := make([]int, len(batches))
	i := h.rng.IntN(len(batches))
	for len(out) < total {
		if next[i] < len(batches[i]) {
			out = append(out, batches[i][next[i]])
			next[i]++
		}
		i = (i + 1) % len(batches)
	}
	return out
}

func (h *Postal) deliver(m mail.Mail) {
	var tick uint64
	if h.clock != nil {
		tick = h.clock.Now()
	}
	box, ok := h.dir.Mailbox(m.To)
	if !ok {
		h.dropped.Add(1)
		h.logger.Printf("postal: unknown recipient %q, dropping %s", m.To, m)
		return
	}
	box.Put(m)
	h.delivered.Add(1)
	if h.verbose {
		h.logger.Printf("postal: delivered %s", m)
	}
	if h.sink != nil {
		h.sink.WriteMail(tick, m)
	}
	if h.bus != nil {
		msg := m
		h.bus.Publish(events.Event{Type: events.MailSent, Tick: tick, Mail: &msg})
	}
}
