package memstore

import (
	"context"
	"slices"
	"time"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var (
	_ application.AccountRepo  = (*AccountRepo)(nil)
	_ application.TransferRepo = (*TransferRepo)(nil)
	_ application.OutboxRepo   = (*OutboxRepo)(nil)
)

type AccountRepo struct{ s *Store }

func (r *AccountRepo) Create(ctx context.Context, a domain.Account) error {
	return r.s.access(ctx, func(tx *memTx) error {
		if _, ok := r.s.accounts[a.ID]; ok {
			return domain.NewError(domain.KindConflict, "account already exists", domain.Fields{"account_id": a.ID})
		}
		r.s.accounts[a.ID] = a
		tx.record(func() { delete(r.s.accounts, a.ID) })
		return nil
	})
}

func (r *AccountRepo) Get(ctx context.Context, id string) (domain.Account, error) {
	var out domain.Account
	err := r.s.access(ctx, func(*memTx) error {
		a, ok := r.s.accounts[id]
		if !ok {
			return domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
		}
		out = a
		return nil
	})
	return out, err
}

// GetForUpdate needs no row locks here: the transaction already holds the
// whole store.
func (r *AccountRepo) GetForUpdate(ctx context.Context, ids ...string) ([]domain.Account, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var out []domain.Account
	err := r.s.access(ctx, func(*memTx) error {
		for _, id := range sorted {
			if a, ok := r.s.accounts[id]; ok {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (r *AccountRepo) AdjustBalance(ctx context.Context, id string, delta int64, at time.Time) (domain.Account, error) {
	var out domain.Account
	err := r.s.access(ctx, func(tx *memTx) error {
		prev, ok := r.s.accounts[id]
		if !ok {
			return domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
		}
		next := prev
		next.Balance += delta
		if next.Balance < 0 {
			return domain.NewError(domain.KindInsufficientFunds, "balance would become negative", domain.Fields{"account_id": id})
		}
		next.UpdatedAt = at
		r.s.accounts[id] = next
		tx.record(func() { r.s.accounts[id] = prev })
		out = next
		return nil
	})
	return out, err
}

type TransferRepo struct{ s *Store }

func (r *TransferRepo) Create(ctx context.Context, t domain.Transfer) error {
	return r.s.access(ctx, func(tx *memTx) error {
		n := len(r.s.transfers)
		r.s.transfers = append(r.s.transfers, t)
		tx.record(func() { r.s.transfers = r.s.transfers[:n] })
		return nil
	})
}

func (r *TransferRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := r.s.access(ctx, func(*memTx) error {
		for i := len(r.s.transfers) - 1; i >= 0 && len(out) < limit; i-- {
			t := r.s.transfers[i]
			if t.FromAccountID == accountID || t.ToAccountID == accountID {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

type OutboxRepo struct{ s *Store }

func (r *OutboxRepo) Enqueue(ctx context.Context, e domain.OutboxEvent) error {
	return r.s.access(ctx, func(tx *memTx) error {
		r.s.nextEventID++
		e.ID = r.s.nextEventID
		e.PublishedAt = nil
		n := len(r.s.outbox)
		r.s.outbox = append(r.s.outbox, e)
		tx.record(func() { r.s.outbox = r.s.outbox[:n] })
		return nil
	})
}

func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	err := r.s.access(ctx, func(*memTx) error {
		for _, e := range r.s.outbox {
			if len(out) == limit {
				break
			}
			if e.PublishedAt == nil {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	return r.s.access(ctx, func(tx *memTx) error {
		for i := range r.s.outbox {
			e := &r.s.outbox[i]
			if e.PublishedAt != nil || !slices.Contains(ids, e.ID) {
				continue
			}
			ts := at
			e.PublishedAt = &ts
			idx := i
			tx.record(func() { r.s.outbox[idx].PublishedAt = nil })
		}
		return nil
	})
}
