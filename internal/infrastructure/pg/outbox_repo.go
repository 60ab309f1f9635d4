package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var _ application.OutboxRepo = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

func (r *OutboxRepo) Enqueue(ctx context.Context, e domain.OutboxEvent) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
        INSERT INTO outbox_events (type, aggregate_id, payload, created_at)
        VALUES ($1, $2, $3, $4)`,
		e.Type, e.AggregateID, string(e.Payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ClaimPending locks the returned rows until the surrounding transaction ends.
// Rows already claimed by another relay are skipped.
func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
        SELECT id, type, aggregate_id, payload::text, created_at
        FROM outbox_events
        WHERE published_at IS NULL
        ORDER BY id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxEvent, error) {
		var (
			e       domain.OutboxEvent
			payload string
		)
		err := row.Scan(&e.ID, &e.Type, &e.AggregateID, &payload, &e.CreatedAt)
		e.Payload = []byte(payload)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox events: %w", err)
	}
	return out, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE outbox_events SET published_at = $2 WHERE id = ANY($1) AND published_at IS NULL`, ids, at)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}
