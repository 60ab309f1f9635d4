package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var (
	_ application.AccountRepo  = (*AccountRepo)(nil)
	_ application.TransferRepo = (*TransferRepo)(nil)
	_ application.OutboxRepo   = (*OutboxRepo)(nil)
)

func exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return ctxGetter.DefaultTrOrDB(ctx, db).ExecContext(ctx, query, args...)
}

func queryRow(ctx context.Context, db *sql.DB, query string, args ...any) *sql.Row {
	return ctxGetter.DefaultTrOrDB(ctx, db).QueryRowContext(ctx, query, args...)
}

func query(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	return ctxGetter.DefaultTrOrDB(ctx, db).QueryContext(ctx, query, args...)
}

// mapConstraint turns SQLite constraint failures into domain errors. The
// driver reports them only through the message text.
func mapConstraint(err error, id string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY"):
		return domain.WrapError(err, domain.KindConflict, "already exists", domain.Fields{"id": id})
	case strings.Contains(msg, "CHECK constraint failed"):
		return domain.WrapError(err, domain.KindInsufficientFunds, "balance would become negative", domain.Fields{"account_id": id})
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return domain.WrapError(err, domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
	}
	return err
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type AccountRepo struct{ db *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

func (r *AccountRepo) Create(ctx context.Context, a domain.Account) error {
	_, err := exec(ctx, r.db,
		`INSERT INTO accounts (id, owner, currency, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Owner, a.Currency, a.Balance, toNanos(a.CreatedAt), toNanos(a.UpdatedAt))
	if err != nil {
		return mapConstraint(fmt.Errorf("insert account: %w", err), a.ID)
	}
	return nil
}

const accountCols = `id, owner, currency, balance, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanAccount(s scanner) (domain.Account, error) {
	var (
		a                    domain.Account
		createdAt, updatedAt int64
	)
	if err := s.Scan(&a.ID, &a.Owner, &a.Currency, &a.Balance, &createdAt, &updatedAt); err != nil {
		return domain.Account{}, err
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
	return a, nil
}

func (r *AccountRepo) Get(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(queryRow(ctx, r.db, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

// GetForUpdate relies on the single connection: a transaction already has
// exclusive use of the database, so a plain read is enough.
func (r *AccountRepo) GetForUpdate(ctx context.Context, ids ...string) ([]domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := query(ctx, r.db, `SELECT `+accountCols+` FROM accounts WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AccountRepo) AdjustBalance(ctx context.Context, id string, delta int64, at time.Time) (domain.Account, error) {
	a, err := scanAccount(queryRow(ctx, r.db,
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ? RETURNING `+accountCols,
		delta, toNanos(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
	}
	if err != nil {
		return domain.Account{}, mapConstraint(fmt.Errorf("update balance: %w", err), id)
	}
	return a, nil
}

type TransferRepo struct{ db *sql.DB }

func NewTransferRepo(db *sql.DB) *TransferRepo { return &TransferRepo{db: db} }

func (r *TransferRepo) Create(ctx context.Context, t domain.Transfer) error {
	_, err := exec(ctx, r.db,
		`INSERT INTO transfers (id, from_account_id, to_account_id, amount, currency, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.FromAccountID, t.ToAccountID, t.Amount, t.Currency, toNanos(t.CreatedAt))
	if err != nil {
		return mapConstraint(fmt.Errorf("insert transfer: %w", err), t.ID)
	}
	return nil
}

func (r *TransferRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transfer, error) {
	rows, err := query(ctx, r.db, `
		SELECT id, from_account_id, to_account_id, amount, currency, created_at
		FROM transfers
		WHERE from_account_id = ? OR to_account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, accountID, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("select transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var (
			t         domain.Transfer
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = fromNanos(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

type OutboxRepo struct{ db *sql.DB }

func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

func (r *OutboxRepo) Enqueue(ctx context.Context, e domain.OutboxEvent) error {
	_, err := exec(ctx, r.db,
		`INSERT INTO outbox_events (type, aggregate_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		e.Type, e.AggregateID, e.Payload, toNanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := query(ctx, r.db, `
		SELECT id, type, aggregate_id, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox events: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var (
			e         domain.OutboxEvent
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.AggregateID, &e.Payload, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = fromNanos(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, toNanos(at))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := exec(ctx, r.db,
		`UPDATE outbox_events SET published_at = ? WHERE published_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}
