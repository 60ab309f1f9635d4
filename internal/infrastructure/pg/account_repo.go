package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var _ application.AccountRepo = (*AccountRepo)(nil)

type AccountRepo struct{ db *DB }

func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

const accountCols = `id, owner, currency, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Owner, &a.Currency, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func accountNotFound(id string) error {
	return domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
}

func (r *AccountRepo) Create(ctx context.Context, a domain.Account) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
        INSERT INTO accounts (id, owner, currency, balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Owner, a.Currency, a.Balance, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert account: %w", err), a.ID)
	}
	return nil
}

func (r *AccountRepo) Get(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(r.db.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, accountNotFound(id)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

// GetForUpdate takes row locks in id order so concurrent transfers between
// the same pair of accounts cannot deadlock.
func (r *AccountRepo) GetForUpdate(ctx context.Context, ids ...string) ([]domain.Account, error) {
	rows, err := r.db.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Account, error) {
		return scanAccount(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}
	return out, nil
}

func (r *AccountRepo) AdjustBalance(ctx context.Context, id string, delta int64, at time.Time) (domain.Account, error) {
	a, err := scanAccount(r.db.conn(ctx).QueryRow(ctx, `
        UPDATE accounts SET balance = balance + $2, updated_at = $3
        WHERE id = $1
        RETURNING `+accountCols, id, delta, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, accountNotFound(id)
	}
	if err != nil {
		return domain.Account{}, mapPgError(fmt.Errorf("update balance: %w", err), id)
	}
	return a, nil
}
