package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store"
	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
)

// DefaultQueueCap bounds the durable outbox; oldest entries are evicted
// first once the cap is exceeded.
const DefaultQueueCap = 50

// OutboundQueue buffers frames that could not be sent immediately. Every
// enqueue persists before returning, so an app kill does not lose work, and
// the queue reloads from the store on the next cold start.
type OutboundQueue struct {
	outbox store.Outbox
	logger *slog.Logger
	cap    int

	mu sync.Mutex
}

func NewOutboundQueue(outbox store.Outbox, queueCap int, logger *slog.Logger) *OutboundQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &OutboundQueue{outbox: outbox, logger: logger, cap: queueCap}
}

// Enqueue appends a frame to the durable outbox. Ephemeral control frames
// are dropped: replaying a stale authenticate or ping after reconnect would
// be wrong, not helpful.
func (q *OutboundQueue) Enqueue(ctx context.Context, frame domain.Frame) error {
	if frame.IsControl() {
		q.logger.Debug("refusing to queue control frame", "type", frame.Type)
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msg := domain.OutboundMessage{
		ID:         idx.New(),
		Frame:      frame,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := q.outbox.Append(ctx, msg); err != nil {
		return err
	}

	n, err := q.outbox.Count(ctx)
	if err != nil {
		return err
	}
	if n > q.cap {
		q.logger.Warn("outbox over capacity, evicting oldest",
			"count", n, "cap", q.cap, "error", ErrQueueOverflow)
		if err := q.outbox.TrimToNewest(ctx, q.cap); err != nil {
			return err
		}
	}

	return nil
}

// Drain sends every queued message in enqueue order. Each message is removed
// from the store only after its send succeeds; the first failure stops the
// drain and leaves the remainder queued for the next authenticated
// transition.
func (q *OutboundQueue) Drain(ctx context.Context, send func(domain.OutboundMessage) error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.outbox.List(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range msgs {
		if err := send(msg); err != nil {
			q.logger.Warn("drain interrupted", "sent", sent, "remaining", len(msgs)-sent, "error", err)
			return sent, err
		}
		if err := q.outbox.Delete(ctx, msg.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		q.logger.Info("outbox drained", "sent", sent)
	}
	return sent, nil
}

// Len returns the number of queued messages.
func (q *OutboundQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outbox.Count(ctx)
}
