package application

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// Nesting decides what Do does when called inside another Do of the same
// boundary.
type Nesting int

const (
	// NestingJoin runs the inner work on the outer transaction. A failed inner
	// call marks the transaction rollback-only.
	NestingJoin Nesting = iota
	// NestingSavepoint runs the inner work under a savepoint that is rolled
	// back on its own when the inner work fails.
	NestingSavepoint
	// NestingReject fails the inner call with ErrNestedTransaction.
	NestingReject
)

func (n Nesting) String() string {
	switch n {
	case NestingJoin:
		return "join"
	case NestingSavepoint:
		return "savepoint"
	case NestingReject:
		return "reject"
	default:
		return fmt.Sprintf("nesting(%d)", int(n))
	}
}

func ParseNesting(s string) (Nesting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "join":
		return NestingJoin, nil
	case "savepoint", "nested":
		return NestingSavepoint, nil
	case "reject", "never":
		return NestingReject, nil
	default:
		return NestingJoin, fmt.Errorf("unknown nesting policy %q", s)
	}
}

// Scope is the per-transaction state shared by every Do call joined to it.
// A scope belongs to the boundary that opened it; scopes of other boundaries
// are invisible to ScopeFrom. This covers the bookkeeping only: whether a
// second boundary over the same store can begin while the first is open is up
// to the store (memstore blocks on its lock, trm joins the outer transaction),
// so each store should be driven by a single boundary.
type Scope struct {
	owner        any
	rollbackOnly atomic.Bool
}

type scopeKey struct{}

// EnterScope returns a context carrying a fresh scope owned by owner.
func EnterScope(ctx context.Context, owner any) (context.Context, *Scope) {
	s := &Scope{owner: owner}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// ScopeFrom returns the innermost scope in ctx if it belongs to owner.
func ScopeFrom(ctx context.Context, owner any) *Scope {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok || s.owner != owner {
		return nil
	}
	return s
}

func (s *Scope) MarkRollbackOnly() { s.rollbackOnly.Store(true) }

func (s *Scope) RollbackOnly() bool { return s.rollbackOnly.Load() }

// Join runs fn on the transaction of s and marks s rollback-only if fn fails.
func (s *Scope) Join(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.MarkRollbackOnly()
		return err
	}
	return nil
}
