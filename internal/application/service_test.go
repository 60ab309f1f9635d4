package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
	"ledger-service/internal/infrastructure/memstore"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type fakeIdem struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
	err      error
}

func (f *fakeIdem) TryReserve(_ context.Context, k string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

func (f *fakeIdem) Release(_ context.Context, k string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, k)
	f.released = append(f.released, k)
	return nil
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T, opts ...application.Option) (*application.LedgerService, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	opts = append([]application.Option{
		application.WithClock(fakeClock{t: t0}),
		application.WithIDGen(&seqIDGen{}),
	}, opts...)
	svc := application.NewLedgerService(memstore.NewUoW(s), s.Accounts(), s.Transfers(), s.Outbox(), opts...)
	return svc, s
}

func openFunded(t *testing.T, svc *application.LedgerService, owner, currency string, amount int64) domain.Account {
	t.Helper()
	ctx := context.Background()
	acc, err := svc.OpenAccount(ctx, owner, currency)
	require.NoError(t, err)
	if amount > 0 {
		acc, err = svc.Deposit(ctx, acc.ID, amount)
		require.NoError(t, err)
	}
	return acc
}

func pendingTypes(t *testing.T, s *memstore.Store) []string {
	t.Helper()
	evs, err := s.Outbox().ClaimPending(context.Background(), 100)
	require.NoError(t, err)
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func Test_OpenAccount(t *testing.T) {
	t.Parallel()
	svc, s := newService(t)

	acc, err := svc.OpenAccount(context.Background(), " alice ", "EUR")
	require.NoError(t, err)
	require.Equal(t, "id-1", acc.ID)
	require.Equal(t, "alice", acc.Owner)
	require.Equal(t, t0, acc.CreatedAt)
	require.Equal(t, []string{domain.EventAccountOpened}, pendingTypes(t, s))

	got, err := svc.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, acc, got)
}

func Test_OpenAccount_Invalid(t *testing.T) {
	t.Parallel()
	svc, s := newService(t)

	_, err := svc.OpenAccount(context.Background(), "", "EUR")
	require.ErrorIs(t, err, application.ErrBadRequest)
	_, err = svc.OpenAccount(context.Background(), "alice", "euro")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Empty(t, pendingTypes(t, s))
}

func Test_GetAccount_NotFound(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)

	_, err := svc.GetAccount(context.Background(), "nope")
	require.ErrorIs(t, err, application.ErrNotFound)
}

func Test_DepositWithdraw(t *testing.T) {
	t.Parallel()
	svc, s := newService(t)
	ctx := context.Background()
	acc := openFunded(t, svc, "alice", "EUR", 100)
	require.EqualValues(t, 100, acc.Balance)

	acc, err := svc.Withdraw(ctx, acc.ID, 30)
	require.NoError(t, err)
	require.EqualValues(t, 70, acc.Balance)

	_, err = svc.Withdraw(ctx, acc.ID, 71)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, domain.KindInsufficientFunds, derr.Kind)
	require.Equal(t, domain.Fields{"account_id": acc.ID, "balance": int64(70), "amount": int64(71)}, derr.Fields())

	_, err = svc.Deposit(ctx, acc.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.Withdraw(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Equal(t, []string{
		domain.EventAccountOpened,
		domain.EventAccountDeposited,
		domain.EventAccountWithdrawn,
	}, pendingTypes(t, s))
}

func Test_Transfer(t *testing.T) {
	t.Parallel()
	svc, s := newService(t)
	ctx := context.Background()
	a := openFunded(t, svc, "alice", "EUR", 100)
	b := openFunded(t, svc, "bob", "EUR", 0)

	tr, err := svc.Transfer(ctx, application.TransferRequest{From: a.ID, To: b.ID, Amount: 40})
	require.NoError(t, err)
	require.Equal(t, a.ID, tr.FromAccountID)
	require.Equal(t, "EUR", tr.Currency)

	a, _ = svc.GetAccount(ctx, a.ID)
	b, _ = svc.GetAccount(ctx, b.ID)
	require.EqualValues(t, 60, a.Balance)
	require.EqualValues(t, 40, b.Balance)

	evs, err := s.Outbox().ClaimPending(ctx, 100)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	require.Equal(t, domain.EventTransferCompleted, last.Type)
	var payload domain.Transfer
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	require.Equal(t, tr.ID, payload.ID)
	require.EqualValues(t, 40, payload.Amount)
}

func Test_Transfer_InsufficientFundsLeavesNoTrace(t *testing.T) {
	t.Parallel()
	svc, s := newService(t)
	ctx := context.Background()
	a := openFunded(t, svc, "alice", "EUR", 10)
	b := openFunded(t, svc, "bob", "EUR", 0)
	before := pendingTypes(t, s)

	_, err := svc.Transfer(ctx, application.TransferRequest{From: a.ID, To: b.ID, Amount: 11})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.False(t, application.IsTxInfrastructure(err))

	a, _ = svc.GetAccount(ctx, a.ID)
	require.EqualValues(t, 10, a.Balance)
	require.Equal(t, before, pendingTypes(t, s))
	list, err := svc.ListTransfers(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func Test_Transfer_Validation(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	eur := openFunded(t, svc, "alice", "EUR", 10)
	usd := openFunded(t, svc, "bob", "USD", 0)

	cases := []struct {
		name string
		req  application.TransferRequest
		want error
	}{
		{"same account", application.TransferRequest{From: eur.ID, To: eur.ID, Amount: 1}, domain.ErrInvalidArgument},
		{"zero amount", application.TransferRequest{From: eur.ID, To: usd.ID}, domain.ErrInvalidArgument},
		{"missing side", application.TransferRequest{From: eur.ID, Amount: 1}, domain.ErrInvalidArgument},
		{"unknown account", application.TransferRequest{From: eur.ID, To: "ghost", Amount: 1}, domain.ErrNotFound},
		{"currency mismatch", application.TransferRequest{From: eur.ID, To: usd.ID, Amount: 1}, domain.ErrCurrencyMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func Test_Transfer_Idempotency(t *testing.T) {
	t.Parallel()
	idem := &fakeIdem{}
	svc, _ := newService(t, application.WithIdempotency(idem))
	ctx := context.Background()
	a := openFunded(t, svc, "alice", "EUR", 100)
	b := openFunded(t, svc, "bob", "EUR", 0)

	req := application.TransferRequest{From: a.ID, To: b.ID, Amount: 10, IdempotencyKey: "ik-1"}
	_, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, req)
	require.ErrorIs(t, err, application.ErrConflict)

	// a failed transfer frees its key for a retry
	failing := application.TransferRequest{From: a.ID, To: b.ID, Amount: 1000, IdempotencyKey: "ik-2"}
	_, err = svc.Transfer(ctx, failing)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, []string{"ik-2"}, idem.released)
	failing.Amount = 5
	_, err = svc.Transfer(ctx, failing)
	require.NoError(t, err)
}

func Test_Transfer_IdempotencyStoreDown(t *testing.T) {
	t.Parallel()
	down := errors.New("redis down")
	svc, _ := newService(t, application.WithIdempotency(&fakeIdem{err: down}))

	_, err := svc.Transfer(context.Background(), application.TransferRequest{From: "a", To: "b", Amount: 1, IdempotencyKey: "k"})
	require.ErrorIs(t, err, down)
}

func Test_Transfer_CommitFailureIsInfrastructure(t *testing.T) {
	t.Parallel()
	svc, s := newService(t)
	ctx := context.Background()
	a := openFunded(t, svc, "alice", "EUR", 100)
	b := openFunded(t, svc, "bob", "EUR", 0)

	s.FailNextCommit(errors.New("disk full"))
	_, err := svc.Transfer(ctx, application.TransferRequest{From: a.ID, To: b.ID, Amount: 10})
	require.True(t, application.IsTxInfrastructure(err))

	a, _ = svc.GetAccount(ctx, a.ID)
	require.EqualValues(t, 100, a.Balance)
}

func Test_Transfer_ConcurrentNeverOverdraws(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	a := openFunded(t, svc, "alice", "EUR", 50)
	b := openFunded(t, svc, "bob", "EUR", 0)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transfer(ctx, application.TransferRequest{From: a.ID, To: b.ID, Amount: 10})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	require.Equal(t, 5, ok)
	a, _ = svc.GetAccount(ctx, a.ID)
	b, _ = svc.GetAccount(ctx, b.ID)
	require.EqualValues(t, 0, a.Balance)
	require.EqualValues(t, 50, b.Balance)
}

func Test_ListTransfers(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	a := openFunded(t, svc, "alice", "EUR", 100)
	b := openFunded(t, svc, "bob", "EUR", 0)
	for i := 0; i < 3; i++ {
		_, err := svc.Transfer(ctx, application.TransferRequest{From: a.ID, To: b.ID, Amount: 1})
		require.NoError(t, err)
	}

	list, err := svc.ListTransfers(ctx, b.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = svc.ListTransfers(ctx, b.ID, 10_000)
	require.NoError(t, err)
	require.Len(t, list, 3)

	_, err = svc.ListTransfers(ctx, "ghost", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
