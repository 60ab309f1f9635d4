// Package uowtest checks that a UnitOfWork implementation commits, rolls back
// and reports failures consistently. Every backing store runs it from its own
// tests.
package uowtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

// Faults injects infrastructure failures into the next transaction.
type Faults interface {
	FailNextBegin(err error)
	FailNextCommit(err error)
	FailNextRollback(err error)
}

type Harness struct {
	// New returns a unit of work with the given nesting policy over a fresh,
	// empty store. All calls within one test share that store.
	New      func(n application.Nesting) application.UnitOfWork
	Accounts application.AccountRepo
	// Faults is nil when the store cannot simulate failures.
	Faults Faults
}

func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("commit returns the work result", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		id := uuid.NewString()

		got, err := application.RunInTransaction(context.Background(), uow, func(ctx context.Context) (int, error) {
			if err := write(ctx, h, id); err != nil {
				return 0, err
			}
			return 42, nil
		})
		require.NoError(t, err)
		require.Equal(t, 42, got)
		require.True(t, exists(t, h, id))
	})

	t.Run("work error is returned verbatim and nothing persists", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		id := uuid.NewString()
		workErr := errors.New("insufficient funds")

		got, err := application.RunInTransaction(context.Background(), uow, func(ctx context.Context) (int, error) {
			if err := write(ctx, h, id); err != nil {
				return 0, err
			}
			return 7, workErr
		})
		require.Same(t, workErr, err)
		require.Zero(t, got)
		require.False(t, application.IsTxInfrastructure(err))
		require.False(t, exists(t, h, id))
	})

	t.Run("domain errors keep their identity", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		workErr := domain.NewError(domain.KindInsufficientFunds, "insufficient funds", domain.Fields{"amount": 10})

		err := uow.Do(context.Background(), func(context.Context) error { return workErr })
		require.Same(t, workErr, err)
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	})

	t.Run("concurrent calls are independent", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		okID, failID := uuid.NewString(), uuid.NewString()
		workErr := errors.New("insufficient funds")

		var wg sync.WaitGroup
		var okErr, failErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			okErr = uow.Do(context.Background(), func(ctx context.Context) error { return write(ctx, h, okID) })
		}()
		go func() {
			defer wg.Done()
			failErr = uow.Do(context.Background(), func(ctx context.Context) error {
				if err := write(ctx, h, failID); err != nil {
					return err
				}
				return workErr
			})
		}()
		wg.Wait()

		require.NoError(t, okErr)
		require.Same(t, workErr, failErr)
		require.True(t, exists(t, h, okID))
		require.False(t, exists(t, h, failID))
	})

	t.Run("many concurrent calls", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		const n = 16
		ids := make([]string, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			ids[i] = uuid.NewString()
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = uow.Do(context.Background(), func(ctx context.Context) error {
					if err := write(ctx, h, ids[i]); err != nil {
						return err
					}
					if i%2 == 1 {
						return fmt.Errorf("call %d failed", i)
					}
					return nil
				})
			}(i)
		}
		wg.Wait()

		for i := range n {
			if i%2 == 1 {
				require.EqualError(t, errs[i], fmt.Sprintf("call %d failed", i))
				require.False(t, exists(t, h, ids[i]))
			} else {
				require.NoError(t, errs[i])
				require.True(t, exists(t, h, ids[i]))
			}
		}
	})

	t.Run("work runs exactly once", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		var calls atomic.Int32
		require.NoError(t, uow.Do(context.Background(), func(context.Context) error {
			calls.Add(1)
			return nil
		}))
		require.EqualValues(t, 1, calls.Load())
	})

	t.Run("panic rolls back and propagates", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		id := uuid.NewString()

		require.PanicsWithValue(t, "boom", func() {
			_ = uow.Do(context.Background(), func(ctx context.Context) error {
				if err := write(ctx, h, id); err != nil {
					return err
				}
				panic("boom")
			})
		})
		require.False(t, exists(t, h, id))

		// the transaction was released
		require.NoError(t, uow.Do(context.Background(), func(ctx context.Context) error { return write(ctx, h, uuid.NewString()) }))
	})

	t.Run("cancellation during work rolls back", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		id := uuid.NewString()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := uow.Do(ctx, func(ctx context.Context) error {
			if err := write(ctx, h, id); err != nil {
				return err
			}
			cancel()
			return nil
		})
		var txErr *application.TxError
		require.ErrorAs(t, err, &txErr)
		require.Equal(t, application.TxOpCommit, txErr.Op)
		require.ErrorIs(t, err, context.Canceled)
		require.False(t, exists(t, h, id))
	})

	t.Run("canceled context never runs the work", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := uow.Do(ctx, func(context.Context) error {
			called = true
			return nil
		})
		require.Error(t, err)
		require.True(t, application.IsTxInfrastructure(err))
		require.False(t, called)
	})

	t.Run("nesting join shares the outer transaction", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		outerID, innerID := uuid.NewString(), uuid.NewString()

		err := uow.Do(context.Background(), func(ctx context.Context) error {
			if err := write(ctx, h, outerID); err != nil {
				return err
			}
			return uow.Do(ctx, func(ctx context.Context) error { return write(ctx, h, innerID) })
		})
		require.NoError(t, err)
		require.True(t, exists(t, h, outerID))
		require.True(t, exists(t, h, innerID))
	})

	t.Run("nesting join marks the outer transaction rollback-only", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingJoin)
		outerID := uuid.NewString()
		innerErr := errors.New("inner failed")

		err := uow.Do(context.Background(), func(ctx context.Context) error {
			if err := write(ctx, h, outerID); err != nil {
				return err
			}
			require.Same(t, innerErr, uow.Do(ctx, func(context.Context) error { return innerErr }))
			return nil
		})
		require.ErrorIs(t, err, application.ErrRollbackOnly)
		require.True(t, application.IsTxInfrastructure(err))
		require.False(t, exists(t, h, outerID))
	})

	t.Run("nesting savepoint rolls back only the inner work", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingSavepoint)
		outerID, innerID, keptID := uuid.NewString(), uuid.NewString(), uuid.NewString()
		innerErr := errors.New("inner failed")

		err := uow.Do(context.Background(), func(ctx context.Context) error {
			if err := write(ctx, h, outerID); err != nil {
				return err
			}
			err := uow.Do(ctx, func(ctx context.Context) error {
				if err := write(ctx, h, innerID); err != nil {
					return err
				}
				return innerErr
			})
			require.Same(t, innerErr, err)
			return uow.Do(ctx, func(ctx context.Context) error { return write(ctx, h, keptID) })
		})
		require.NoError(t, err)
		require.True(t, exists(t, h, outerID))
		require.False(t, exists(t, h, innerID))
		require.True(t, exists(t, h, keptID))
	})

	t.Run("nesting reject fails the inner call", func(t *testing.T) {
		h := newHarness(t)
		uow := h.New(application.NestingReject)
		outerID := uuid.NewString()

		err := uow.Do(context.Background(), func(ctx context.Context) error {
			if err := write(ctx, h, outerID); err != nil {
				return err
			}
			return uow.Do(ctx, func(context.Context) error { return nil })
		})
		var txErr *application.TxError
		require.ErrorAs(t, err, &txErr)
		require.Equal(t, application.TxOpBegin, txErr.Op)
		require.ErrorIs(t, err, application.ErrNestedTransaction)
		require.False(t, exists(t, h, outerID))
	})

	runFaults(t, newHarness)
}

func runFaults(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("begin failure skips the work", func(t *testing.T) {
		h := newHarness(t)
		if h.Faults == nil {
			t.Skip("store cannot inject faults")
		}
		uow := h.New(application.NestingJoin)
		boom := errors.New("connection refused")
		h.Faults.FailNextBegin(boom)

		called := false
		_, err := application.RunInTransaction(context.Background(), uow, func(context.Context) (int, error) {
			called = true
			return 42, nil
		})
		var txErr *application.TxError
		require.ErrorAs(t, err, &txErr)
		require.Equal(t, application.TxOpBegin, txErr.Op)
		require.ErrorIs(t, err, boom)
		require.False(t, called)
	})

	t.Run("commit failure is an infrastructure error", func(t *testing.T) {
		h := newHarness(t)
		if h.Faults == nil {
			t.Skip("store cannot inject faults")
		}
		uow := h.New(application.NestingJoin)
		id := uuid.NewString()
		boom := errors.New("disk full")
		h.Faults.FailNextCommit(boom)

		got, err := application.RunInTransaction(context.Background(), uow, func(ctx context.Context) (int, error) {
			if err := write(ctx, h, id); err != nil {
				return 0, err
			}
			return 42, nil
		})
		require.Zero(t, got)
		var txErr *application.TxError
		require.ErrorAs(t, err, &txErr)
		require.Equal(t, application.TxOpCommit, txErr.Op)
		require.ErrorIs(t, err, boom)
		require.False(t, exists(t, h, id))
	})

	t.Run("rollback failure reports both errors", func(t *testing.T) {
		h := newHarness(t)
		if h.Faults == nil {
			t.Skip("store cannot inject faults")
		}
		uow := h.New(application.NestingJoin)
		workErr := errors.New("insufficient funds")
		rbErr := errors.New("connection reset")
		h.Faults.FailNextRollback(rbErr)

		err := uow.Do(context.Background(), func(context.Context) error { return workErr })
		var txErr *application.TxError
		require.ErrorAs(t, err, &txErr)
		require.Equal(t, application.TxOpRollback, txErr.Op)
		require.ErrorIs(t, err, workErr)
		require.ErrorIs(t, err, rbErr)
		require.True(t, application.IsTxInfrastructure(err))
	})
}

func write(ctx context.Context, h Harness, id string) error {
	now := time.Now().UTC()
	return h.Accounts.Create(ctx, domain.Account{
		ID:        id,
		Owner:     "uowtest",
		Currency:  "EUR",
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func exists(t *testing.T, h Harness, id string) bool {
	t.Helper()
	_, err := h.Accounts.Get(context.Background(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}
