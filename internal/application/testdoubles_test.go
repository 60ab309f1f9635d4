package application

import (
	"context"
	"errors"
	"sync"
)

var ErrRepo = errors.New("repo error")

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

type fakeTx struct {
	b        *fakeBeginner
	nested   bool
	state    txState
	rbCtxErr error
}

func (t *fakeTx) Commit(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.log = append(t.b.log, "commit")
	if t.b.commitErr != nil {
		return t.b.commitErr
	}
	t.state = txCommitted
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.state != txOpen {
		return nil
	}
	t.b.log = append(t.b.log, "rollback")
	t.rbCtxErr = ctx.Err()
	t.state = txRolledBack
	return t.b.rollbackErr
}

type fakeTxKey struct{}

// fakeBeginner records the lifecycle calls it receives.
type fakeBeginner struct {
	mu          sync.Mutex
	log         []string
	txs         []*fakeTx
	beginErr    error
	commitErr   error
	rollbackErr error
}

func (b *fakeBeginner) Begin(ctx context.Context) (context.Context, Tx, error) {
	return b.open(ctx, false)
}

func (b *fakeBeginner) Savepoint(ctx context.Context) (context.Context, Tx, error) {
	return b.open(ctx, true)
}

func (b *fakeBeginner) open(ctx context.Context, nested bool) (context.Context, Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if nested {
		b.log = append(b.log, "savepoint")
	} else {
		b.log = append(b.log, "begin")
	}
	if b.beginErr != nil {
		return ctx, nil, b.beginErr
	}
	tx := &fakeTx{b: b, nested: nested}
	b.txs = append(b.txs, tx)
	return context.WithValue(ctx, fakeTxKey{}, tx), tx, nil
}

func (b *fakeBeginner) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}
