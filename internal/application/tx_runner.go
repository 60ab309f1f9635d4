package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tx is one backing-store transaction or savepoint, owned by a single Do call.
// Rollback after Commit, successful or not, must be a harmless no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens transactions on a backing store and stores them in the
// returned context, where the store's repositories look them up.
type TxBeginner interface {
	Begin(ctx context.Context) (context.Context, Tx, error)
	// Savepoint opens a nested scope inside the transaction carried by ctx.
	Savepoint(ctx context.Context) (context.Context, Tx, error)
}

const defaultRollbackTimeout = 5 * time.Second

// TxRunner implements UnitOfWork for any TxBeginner.
type TxRunner struct {
	beginner        TxBeginner
	nesting         Nesting
	rollbackTimeout time.Duration
	log             *zap.Logger
}

var _ UnitOfWork = (*TxRunner)(nil)

type RunnerOption func(*TxRunner)

func WithNesting(n Nesting) RunnerOption { return func(r *TxRunner) { r.nesting = n } }

// WithRollbackTimeout bounds rollbacks, which run on a context detached from
// the caller's cancellation.
func WithRollbackTimeout(d time.Duration) RunnerOption {
	return func(r *TxRunner) { r.rollbackTimeout = d }
}

func WithTxLogger(l *zap.Logger) RunnerOption { return func(r *TxRunner) { r.log = l } }

func NewTxRunner(b TxBeginner, opts ...RunnerOption) *TxRunner {
	r := &TxRunner{beginner: b, nesting: NestingJoin}
	for _, opt := range opts {
		opt(r)
	}
	if r.rollbackTimeout <= 0 {
		r.rollbackTimeout = defaultRollbackTimeout
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

func (r *TxRunner) Nesting() Nesting { return r.nesting }

func (r *TxRunner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	parent := ScopeFrom(ctx, r)
	if parent == nil {
		return r.run(ctx, r.beginner.Begin, fn)
	}
	switch r.nesting {
	case NestingReject:
		return &TxError{Op: TxOpBegin, Err: ErrNestedTransaction}
	case NestingSavepoint:
		return r.run(ctx, r.beginner.Savepoint, fn)
	default:
		return parent.Join(ctx, fn)
	}
}

func (r *TxRunner) run(
	ctx context.Context,
	begin func(context.Context) (context.Context, Tx, error),
	fn func(ctx context.Context) error,
) (err error) {
	txCtx, tx, err := begin(ctx)
	if err != nil {
		r.log.Warn("tx.begin_failed", zap.Error(err))
		return &TxError{Op: TxOpBegin, Err: err}
	}
	txCtx, scope := EnterScope(txCtx, r)

	defer func() {
		if p := recover(); p != nil {
			if rbErr := r.rollback(ctx, tx); rbErr != nil {
				r.log.Error("tx.rollback_failed", zap.Any("panic", p), zap.Error(rbErr))
			}
			panic(p)
		}
	}()

	if workErr := fn(txCtx); workErr != nil {
		if rbErr := r.rollback(ctx, tx); rbErr != nil {
			r.log.Error("tx.rollback_failed", zap.NamedError("work_error", workErr), zap.Error(rbErr))
			return &TxError{Op: TxOpRollback, Err: rbErr, Work: workErr}
		}
		r.log.Debug("tx.rolled_back", zap.NamedError("work_error", workErr))
		return workErr
	}

	var abort error
	switch {
	case scope.RollbackOnly():
		abort = ErrRollbackOnly
	case ctx.Err() != nil:
		abort = ctx.Err()
	}
	if abort != nil {
		if rbErr := r.rollback(ctx, tx); rbErr != nil {
			r.log.Error("tx.rollback_failed", zap.NamedError("abort", abort), zap.Error(rbErr))
		}
		return &TxError{Op: TxOpCommit, Err: abort}
	}

	if cErr := tx.Commit(ctx); cErr != nil {
		r.log.Warn("tx.commit_failed", zap.Error(cErr))
		if rbErr := r.rollback(ctx, tx); rbErr != nil {
			r.log.Error("tx.rollback_failed", zap.NamedError("commit_error", cErr), zap.Error(rbErr))
		}
		return &TxError{Op: TxOpCommit, Err: cErr}
	}
	r.log.Debug("tx.committed")
	return nil
}

func (r *TxRunner) rollback(ctx context.Context, tx Tx) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.rollbackTimeout)
	defer cancel()
	return tx.Rollback(rbCtx)
}
