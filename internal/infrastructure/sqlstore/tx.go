package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	trmmanager "github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/avito-tech/go-transaction-manager/trm/v2/settings"
	"go.uber.org/zap"

	"ledger-service/internal/application"
)

var ctxGetter = trmsql.DefaultCtxGetter

var errPanicked = errors.New("work panicked")

// TxManager is a UnitOfWork over go-transaction-manager. Repositories pick the
// transaction up with ctxGetter.
type TxManager struct {
	tm      trm.Manager
	nesting application.Nesting
	log     *zap.Logger
}

var _ application.UnitOfWork = (*TxManager)(nil)

func NewTxManager(db *sql.DB, nesting application.Nesting, log *zap.Logger) *TxManager {
	mgr := trmmanager.Must(
		trmsql.NewDefaultFactory(db),
		trmmanager.WithCtxManager(trmcontext.DefaultManager),
	)
	if log == nil {
		log = zap.NewNop()
	}
	return &TxManager{tm: mgr, nesting: nesting, log: log}
}

func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	parent := application.ScopeFrom(ctx, m)
	if parent == nil {
		return m.run(ctx, nil, fn)
	}
	switch m.nesting {
	case application.NestingReject:
		return &application.TxError{Op: application.TxOpBegin, Err: application.ErrNestedTransaction}
	case application.NestingSavepoint:
		return m.run(ctx, settings.Must(settings.WithPropagation(trm.PropagationNested)), fn)
	default:
		return parent.Join(ctx, fn)
	}
}

// run keeps track of what happened inside the manager so the outcome can be
// classified: trm reports work, begin and commit failures through one error.
func (m *TxManager) run(ctx context.Context, s trm.Settings, fn func(ctx context.Context) error) error {
	var (
		ran      bool
		workErr  error
		abortErr error
		panicVal any
	)
	inner := func(ctx context.Context) (err error) {
		ran = true
		defer func() {
			if p := recover(); p != nil {
				panicVal = p
				err = errPanicked
			}
		}()
		ctx, scope := application.EnterScope(ctx, m)
		if err := fn(ctx); err != nil {
			workErr = err
			return err
		}
		switch {
		case scope.RollbackOnly():
			abortErr = application.ErrRollbackOnly
		case ctx.Err() != nil:
			abortErr = ctx.Err()
		}
		return abortErr
	}

	var err error
	if s == nil {
		err = m.tm.Do(ctx, inner)
	} else {
		err = m.tm.DoWithSettings(ctx, s, inner)
	}
	if panicVal != nil {
		if errors.Is(err, trm.ErrRollback) {
			m.log.Error("tx.rollback_failed", zap.Any("panic", panicVal), zap.Error(err))
		}
		panic(panicVal)
	}

	switch {
	case err == nil:
		return nil
	case !ran:
		m.log.Warn("tx.begin_failed", zap.Error(err))
		return &application.TxError{Op: application.TxOpBegin, Err: err}
	case workErr != nil:
		if errors.Is(err, trm.ErrRollback) {
			m.log.Error("tx.rollback_failed", zap.NamedError("work_error", workErr), zap.Error(err))
			return &application.TxError{Op: application.TxOpRollback, Err: err, Work: workErr}
		}
		return workErr
	case abortErr != nil:
		return &application.TxError{Op: application.TxOpCommit, Err: abortErr}
	default:
		m.log.Warn("tx.commit_failed", zap.Error(err))
		return &application.TxError{Op: application.TxOpCommit, Err: fmt.Errorf("commit: %w", err)}
	}
}
