package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
)

type outboxRepo struct {
	db *sql.DB
}

func (r *outboxRepo) Append(ctx context.Context, m domain.OutboundMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (id, frame_type, topic, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), m.Frame.Type, m.Frame.Topic, []byte(m.Frame.Payload), m.EnqueuedAt.Unix())
	return err
}

func (r *outboxRepo) List(ctx context.Context) ([]domain.OutboundMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, frame_type, topic, payload, enqueued_at
		FROM outbox ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboundMessage
	for rows.Next() {
		var (
			id         string
			frameType  string
			topic      string
			payload    []byte
			enqueuedAt int64
		)
		if err := rows.Scan(&id, &frameType, &topic, &payload, &enqueuedAt); err != nil {
			return nil, err
		}

		out = append(out, domain.OutboundMessage{
			ID: idx.ID(id),
			Frame: domain.Frame{
				Type:    frameType,
				Topic:   topic,
				Payload: payload,
			},
			EnqueuedAt: time.Unix(enqueuedAt, 0).UTC(),
		})
	}
	return out, rows.Err()
}

func (r *outboxRepo) Delete(ctx context.Context, id idx.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id.String())
	return err
}

func (r *outboxRepo) TrimToNewest(ctx context.Context, n int) error {
	// ULID ids sort by enqueue time, so "newest n" is the lexical tail.
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE id NOT IN (
			SELECT id FROM outbox ORDER BY id DESC LIMIT ?
		)`, n)
	return err
}

func (r *outboxRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}
