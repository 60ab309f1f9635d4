package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var _ application.TransferRepo = (*TransferRepo)(nil)

type TransferRepo struct{ db *DB }

func NewTransferRepo(db *DB) *TransferRepo { return &TransferRepo{db: db} }

func (r *TransferRepo) Create(ctx context.Context, t domain.Transfer) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
        INSERT INTO transfers (id, from_account_id, to_account_id, amount, currency, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.FromAccountID, t.ToAccountID, t.Amount, t.Currency, t.CreatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert transfer: %w", err), t.ID)
	}
	return nil
}

func (r *TransferRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transfer, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
        SELECT id, from_account_id, to_account_id, amount, currency, created_at
        FROM transfers
        WHERE from_account_id = $1 OR to_account_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("select transfers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transfer, error) {
		var t domain.Transfer
		err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan transfers: %w", err)
	}
	return out, nil
}
