// Package handlers holds the consumers of complete units: perception
// acknowledgement, mail delivery and the world reactor. Each one drains its
// own queue on a dedicated goroutine.
package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"

	"packetworld.ai/internal/sim/dispatch"
	"packetworld.ai/internal/sim/queue"
)

// PerceptionAck acknowledges perception outcomes as soon as it sees them.
type PerceptionAck struct {
	logger *log.Logger
	in     *queue.Queue[dispatch.Payload]
	acked  atomic.Uint64
}

func NewPerceptionAck(logger *log.Logger) *PerceptionAck {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &PerceptionAck{logger: logger, in: queue.New[dispatch.Payload]()}
}

func (h *PerceptionAck) Deposit(p dispatch.Payload) { h.in.Push(p) }

func (h *PerceptionAck) Close() { h.in.Close() }

func (h *PerceptionAck) Acknowledged() uint64 { return h.acked.Load() }

func (h *PerceptionAck) Run(ctx context.Context) error {
	return drain(ctx, h.in, func(p dispatch.Payload) {
		h.acked.Add(uint64(p.Count()))
		p.Ack()
	})
}

// drain pops payloads until ctx is done or the queue is closed.
func drain(ctx context.Context, in *queue.Queue[dispatch.Payload], process func(dispatch.Payload)) error {
	for {
		p, err := in.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		process(p)
	}
}
