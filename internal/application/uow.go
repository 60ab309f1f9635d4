package application

import "context"

// UnitOfWork provides a minimal transaction boundary using context propagation.
//
// Do begins a transaction, runs fn with a context carrying it, and commits when
// fn returns nil. When fn fails the transaction is rolled back and fn's error
// is returned unchanged. Failures to begin, commit or roll back are reported
// as *TxError. Repositories find the active transaction through the context
// passed to fn; no handle is given to fn directly.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunInTransaction runs work inside one transaction of uow and returns its
// result. On failure the zero value of T is returned with the error.
func RunInTransaction[T any](ctx context.Context, uow UnitOfWork, work func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := uow.Do(ctx, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// NoopUoW executes the function without starting a transaction.
type NoopUoW struct{}

func (NoopUoW) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
