package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ledger-service/internal/domain"
)

// Repositories read the active transaction from ctx and fall back to
// autocommit when there is none.

type AccountRepo interface {
	Create(ctx context.Context, a domain.Account) error
	Get(ctx context.Context, id string) (domain.Account, error)
	// GetForUpdate locks the given accounts for the rest of the transaction.
	// Rows are locked in id order; missing ids are simply absent from the result.
	GetForUpdate(ctx context.Context, ids ...string) ([]domain.Account, error)
	AdjustBalance(ctx context.Context, id string, delta int64, at time.Time) (domain.Account, error)
}

type TransferRepo interface {
	Create(ctx context.Context, t domain.Transfer) error
	// ListByAccount returns transfers touching the account, newest first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transfer, error)
}

type OutboxRepo interface {
	Enqueue(ctx context.Context, e domain.OutboxEvent) error
	// ClaimPending returns up to limit unpublished events in id order.
	ClaimPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e domain.OutboxEvent) error
}

type Clock interface {
	Now() time.Time
}

type IDGen interface {
	NewID() string
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type defaultIDGen struct{}

func (defaultIDGen) NewID() string { return uuid.NewString() }
