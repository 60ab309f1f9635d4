package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var _ application.Worker = (*OutboxRelay)(nil)

const markTimeout = 5 * time.Second

// OutboxRelay moves committed outbox events to a publisher. A batch is read
// in one transaction, published with no transaction open, then marked in a
// second one. A crash or a failed mark in between leads to redelivery, never
// to loss.
type OutboxRelay struct {
	UoW       application.UnitOfWork
	Outbox    application.OutboxRepo
	Publisher application.EventPublisher

	PollEvery  time.Duration
	BatchLimit int
	Now        func() time.Time
	Log        *zap.Logger
}

func (w *OutboxRelay) defaults() {
	if w.Log == nil {
		w.Log = zap.NewNop()
	}
	if w.PollEvery <= 0 {
		w.PollEvery = 250 * time.Millisecond
	}
	if w.BatchLimit <= 0 {
		w.BatchLimit = 10
	}
	if w.Now == nil {
		w.Now = func() time.Time { return time.Now().UTC() }
	}
}

func (w *OutboxRelay) Start(ctx context.Context) {
	w.defaults()
	t := time.NewTicker(w.PollEvery)
	defer t.Stop()

	w.Log.Info("outbox_relay_started", zap.Duration("poll_every", w.PollEvery), zap.Int("batch", w.BatchLimit))
	for {
		select {
		case <-ctx.Done():
			w.Log.Info("outbox_relay_stopped")
			return
		case <-t.C:
			if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				w.Log.Warn("outbox_relay.batch_failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce publishes at most one batch and returns how many events were
// marked as published. Publishing stops at the first failure; events already
// delivered in that batch are still marked.
func (w *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	w.defaults()
	events, err := application.RunInTransaction(ctx, w.UoW, func(ctx context.Context) ([]domain.OutboxEvent, error) {
		return w.Outbox.ClaimPending(ctx, w.BatchLimit)
	})
	if err != nil {
		return 0, err
	}

	done := make([]int64, 0, len(events))
	for _, e := range events {
		if err := w.Publisher.Publish(ctx, e); err != nil {
			w.Log.Warn("outbox_relay.publish_failed",
				zap.Int64("event_id", e.ID), zap.String("type", e.Type), zap.Error(err))
			break
		}
		done = append(done, e.ID)
	}
	if len(done) == 0 {
		return 0, nil
	}

	// Delivered events must be marked even when ctx was canceled mid-batch.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	err = w.UoW.Do(markCtx, func(ctx context.Context) error {
		return w.Outbox.MarkPublished(ctx, done, w.Now())
	})
	if err != nil {
		return 0, err
	}
	w.Log.Debug("outbox_relay.published", zap.Int("count", len(done)))
	return len(done), nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{ Log *zap.Logger }

func (p LogPublisher) Publish(_ context.Context, e domain.OutboxEvent) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("event",
		zap.Int64("event_id", e.ID),
		zap.String("type", e.Type),
		zap.String("aggregate_id", e.AggregateID),
		zap.ByteString("payload", e.Payload),
	)
	return nil
}
