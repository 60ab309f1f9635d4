// Package memstore is an in-memory backing store with real commit/rollback
// semantics. A transaction holds the store lock from Begin to
// Commit/Rollback and records an undo entry for every write.
package memstore

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var ErrNoTransaction = errors.New("memstore: savepoint outside transaction")

type Store struct {
	lock *semaphore.Weighted

	accounts    map[string]domain.Account
	transfers   []domain.Transfer
	outbox      []domain.OutboxEvent
	nextEventID int64

	faultMu       sync.Mutex
	beginFault    error
	commitFault   error
	rollbackFault error
}

var _ application.TxBeginner = (*Store)(nil)

func New() *Store {
	return &Store{
		lock:     semaphore.NewWeighted(1),
		accounts: map[string]domain.Account{},
	}
}

// NewUoW returns a unit of work over s.
func NewUoW(s *Store, opts ...application.RunnerOption) *application.TxRunner {
	return application.NewTxRunner(s, opts...)
}

func (s *Store) Accounts() *AccountRepo   { return &AccountRepo{s: s} }
func (s *Store) Transfers() *TransferRepo { return &TransferRepo{s: s} }
func (s *Store) Outbox() *OutboxRepo      { return &OutboxRepo{s: s} }

func (s *Store) Ping(context.Context) error { return nil }

// FailNextBegin makes the next Begin or Savepoint return err.
func (s *Store) FailNextBegin(err error) { s.setFault(&s.beginFault, err) }

// FailNextCommit makes the next Commit return err without applying anything.
func (s *Store) FailNextCommit(err error) { s.setFault(&s.commitFault, err) }

// FailNextRollback makes the next Rollback return err. The writes are still
// discarded and the lock released.
func (s *Store) FailNextRollback(err error) { s.setFault(&s.rollbackFault, err) }

func (s *Store) setFault(slot *error, err error) {
	s.faultMu.Lock()
	*slot = err
	s.faultMu.Unlock()
}

func (s *Store) takeFault(slot *error) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err := *slot
	*slot = nil
	return err
}

type txKey struct{}

type memTx struct {
	store  *Store
	parent *memTx
	undo   []func()
	done   bool
}

func (s *Store) txFrom(ctx context.Context) *memTx {
	tx, ok := ctx.Value(txKey{}).(*memTx)
	if !ok || tx.store != s {
		return nil
	}
	return tx
}

func (s *Store) Begin(ctx context.Context) (context.Context, application.Tx, error) {
	if err := s.takeFault(&s.beginFault); err != nil {
		return ctx, nil, err
	}
	if err := ctx.Err(); err != nil {
		return ctx, nil, err
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return ctx, nil, err
	}
	tx := &memTx{store: s}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

func (s *Store) Savepoint(ctx context.Context) (context.Context, application.Tx, error) {
	if err := s.takeFault(&s.beginFault); err != nil {
		return ctx, nil, err
	}
	parent := s.txFrom(ctx)
	if parent == nil {
		return ctx, nil, ErrNoTransaction
	}
	tx := &memTx{store: s, parent: parent}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

func (tx *memTx) Commit(context.Context) error {
	if tx.done {
		return nil
	}
	if err := tx.store.takeFault(&tx.store.commitFault); err != nil {
		return err
	}
	tx.done = true
	if tx.parent != nil {
		tx.parent.undo = append(tx.parent.undo, tx.undo...)
		return nil
	}
	tx.undo = nil
	tx.store.lock.Release(1)
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	if tx.parent == nil {
		tx.store.lock.Release(1)
	}
	return tx.store.takeFault(&tx.store.rollbackFault)
}

func (tx *memTx) record(fn func()) {
	if tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

// access runs fn with the store locked: by the transaction in ctx when there
// is one, otherwise for the duration of fn only.
func (s *Store) access(ctx context.Context, fn func(tx *memTx) error) error {
	if tx := s.txFrom(ctx); tx != nil {
		return fn(tx)
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)
	return fn(nil)
}
