package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"ledger-service/internal/application"
)

type txKey struct{}

func txFromCtx(ctx context.Context) pgx.Tx {
	if v := ctx.Value(txKey{}); v != nil {
		if tx, ok := v.(pgx.Tx); ok {
			return tx
		}
	}
	return nil
}

var errNoTx = errors.New("pg: savepoint outside transaction")

// Beginner opens pgx transactions; savepoints are pgx pseudo-nested
// transactions on the outer one.
type Beginner struct {
	db   *DB
	opts pgx.TxOptions
}

var _ application.TxBeginner = (*Beginner)(nil)

func NewBeginner(db *DB, opts pgx.TxOptions) *Beginner {
	return &Beginner{db: db, opts: opts}
}

// NewUnitOfWork returns a read-committed unit of work over db.
func NewUnitOfWork(db *DB, opts ...application.RunnerOption) *application.TxRunner {
	return application.NewTxRunner(NewBeginner(db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}), opts...)
}

func (b *Beginner) Begin(ctx context.Context) (context.Context, application.Tx, error) {
	tx, err := b.db.Pool.BeginTx(ctx, b.opts)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey{}, tx), pgTx{tx}, nil
}

func (b *Beginner) Savepoint(ctx context.Context) (context.Context, application.Tx, error) {
	outer := txFromCtx(ctx)
	if outer == nil {
		return ctx, nil, errNoTx
	}
	tx, err := outer.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey{}, tx), pgTx{tx}, nil
}

type pgTx struct{ tx pgx.Tx }

func (t pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
