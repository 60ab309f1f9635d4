package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ledger-service/internal/domain"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type LedgerService struct {
	uow       UnitOfWork
	accounts  AccountRepo
	transfers TransferRepo
	outbox    OutboxRepo
	idem      IdempotencyStore
	clock     Clock
	idgen     IDGen
	log       *zap.Logger
}

type Option func(*LedgerService)

func WithClock(c Clock) Option                   { return func(s *LedgerService) { s.clock = c } }
func WithIDGen(g IDGen) Option                   { return func(s *LedgerService) { s.idgen = g } }
func WithIdempotency(st IdempotencyStore) Option { return func(s *LedgerService) { s.idem = st } }
func WithLogger(l *zap.Logger) Option            { return func(s *LedgerService) { s.log = l } }

func NewLedgerService(uow UnitOfWork, accounts AccountRepo, transfers TransferRepo, outbox OutboxRepo, opts ...Option) *LedgerService {
	s := &LedgerService{
		uow:       uow,
		accounts:  accounts,
		transfers: transfers,
		outbox:    outbox,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idem == nil {
		s.idem = NoopIdempotency{}
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.idgen == nil {
		s.idgen = defaultIDGen{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *LedgerService) OpenAccount(ctx context.Context, owner, currency string) (domain.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Account{}, domain.NewError(domain.KindInvalidArgument, "owner is required", nil)
	}
	if !domain.ValidateCurrency(currency) {
		return domain.Account{}, domain.NewError(domain.KindInvalidArgument, "invalid currency", domain.Fields{"currency": currency})
	}
	now := s.clock.Now()
	acc := domain.Account{
		ID:        s.idgen.NewID(),
		Owner:     owner,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return RunInTransaction(ctx, s.uow, func(ctx context.Context) (domain.Account, error) {
		if err := s.accounts.Create(ctx, acc); err != nil {
			return domain.Account{}, err
		}
		if err := s.enqueue(ctx, domain.EventAccountOpened, acc.ID, acc); err != nil {
			return domain.Account{}, err
		}
		return acc, nil
	})
}

func (s *LedgerService) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return s.accounts.Get(ctx, id)
}

func (s *LedgerService) Deposit(ctx context.Context, id string, amount int64) (domain.Account, error) {
	if amount <= 0 {
		return domain.Account{}, domain.NewError(domain.KindInvalidArgument, "amount must be positive", domain.Fields{"amount": amount})
	}
	return RunInTransaction(ctx, s.uow, func(ctx context.Context) (domain.Account, error) {
		acc, err := s.lockOne(ctx, id)
		if err != nil {
			return domain.Account{}, err
		}
		acc, err = s.accounts.AdjustBalance(ctx, acc.ID, amount, s.clock.Now())
		if err != nil {
			return domain.Account{}, err
		}
		if err := s.enqueue(ctx, domain.EventAccountDeposited, acc.ID, balanceChange{acc.ID, amount, acc.Balance}); err != nil {
			return domain.Account{}, err
		}
		return acc, nil
	})
}

func (s *LedgerService) Withdraw(ctx context.Context, id string, amount int64) (domain.Account, error) {
	if amount <= 0 {
		return domain.Account{}, domain.NewError(domain.KindInvalidArgument, "amount must be positive", domain.Fields{"amount": amount})
	}
	return RunInTransaction(ctx, s.uow, func(ctx context.Context) (domain.Account, error) {
		acc, err := s.lockOne(ctx, id)
		if err != nil {
			return domain.Account{}, err
		}
		if acc.Balance < amount {
			return domain.Account{}, insufficientFunds(acc, amount)
		}
		acc, err = s.accounts.AdjustBalance(ctx, acc.ID, -amount, s.clock.Now())
		if err != nil {
			return domain.Account{}, err
		}
		if err := s.enqueue(ctx, domain.EventAccountWithdrawn, acc.ID, balanceChange{acc.ID, -amount, acc.Balance}); err != nil {
			return domain.Account{}, err
		}
		return acc, nil
	})
}

type TransferRequest struct {
	From           string
	To             string
	Amount         int64
	IdempotencyKey string
}

func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (domain.Transfer, error) {
	switch {
	case req.From == "" || req.To == "":
		return domain.Transfer{}, domain.NewError(domain.KindInvalidArgument, "both accounts are required", nil)
	case req.From == req.To:
		return domain.Transfer{}, domain.NewError(domain.KindInvalidArgument, "cannot transfer to the same account", domain.Fields{"account_id": req.From})
	case req.Amount <= 0:
		return domain.Transfer{}, domain.NewError(domain.KindInvalidArgument, "amount must be positive", domain.Fields{"amount": req.Amount})
	}

	if req.IdempotencyKey != "" {
		ok, err := s.idem.TryReserve(ctx, req.IdempotencyKey)
		if err != nil {
			return domain.Transfer{}, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !ok {
			return domain.Transfer{}, domain.NewError(domain.KindConflict, "duplicate request", domain.Fields{"idempotency_key": req.IdempotencyKey})
		}
	}

	t, err := RunInTransaction(ctx, s.uow, func(ctx context.Context) (domain.Transfer, error) {
		return s.transfer(ctx, req)
	})
	if err != nil && req.IdempotencyKey != "" {
		if rerr := s.idem.Release(context.WithoutCancel(ctx), req.IdempotencyKey); rerr != nil {
			s.log.Warn("idempotency.release_failed", zap.String("key", req.IdempotencyKey), zap.Error(rerr))
		}
	}
	return t, err
}

func (s *LedgerService) transfer(ctx context.Context, req TransferRequest) (domain.Transfer, error) {
	locked, err := s.accounts.GetForUpdate(ctx, req.From, req.To)
	if err != nil {
		return domain.Transfer{}, err
	}
	byID := make(map[string]domain.Account, len(locked))
	for _, a := range locked {
		byID[a.ID] = a
	}
	from, ok := byID[req.From]
	if !ok {
		return domain.Transfer{}, notFound(req.From)
	}
	to, ok := byID[req.To]
	if !ok {
		return domain.Transfer{}, notFound(req.To)
	}
	if from.Currency != to.Currency {
		return domain.Transfer{}, domain.NewError(domain.KindCurrencyMismatch, "currency mismatch", domain.Fields{
			"from_currency": from.Currency,
			"to_currency":   to.Currency,
		})
	}
	if from.Balance < req.Amount {
		return domain.Transfer{}, insufficientFunds(from, req.Amount)
	}

	now := s.clock.Now()
	if _, err := s.accounts.AdjustBalance(ctx, from.ID, -req.Amount, now); err != nil {
		return domain.Transfer{}, err
	}
	if _, err := s.accounts.AdjustBalance(ctx, to.ID, req.Amount, now); err != nil {
		return domain.Transfer{}, err
	}
	t := domain.Transfer{
		ID:            s.idgen.NewID(),
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        req.Amount,
		Currency:      from.Currency,
		CreatedAt:     now,
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		return domain.Transfer{}, err
	}
	if err := s.enqueue(ctx, domain.EventTransferCompleted, t.ID, t); err != nil {
		return domain.Transfer{}, err
	}
	return t, nil
}

func (s *LedgerService) ListTransfers(ctx context.Context, accountID string, limit int) ([]domain.Transfer, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return RunInTransaction(ctx, s.uow, func(ctx context.Context) ([]domain.Transfer, error) {
		if _, err := s.accounts.Get(ctx, accountID); err != nil {
			return nil, err
		}
		return s.transfers.ListByAccount(ctx, accountID, limit)
	})
}

func (s *LedgerService) lockOne(ctx context.Context, id string) (domain.Account, error) {
	accs, err := s.accounts.GetForUpdate(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if len(accs) == 0 {
		return domain.Account{}, notFound(id)
	}
	return accs[0], nil
}

type balanceChange struct {
	AccountID string `json:"account_id"`
	Delta     int64  `json:"delta"`
	Balance   int64  `json:"balance"`
}

func (s *LedgerService) enqueue(ctx context.Context, typ, aggregateID string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return s.outbox.Enqueue(ctx, domain.OutboxEvent{
		Type:        typ,
		AggregateID: aggregateID,
		Payload:     b,
		CreatedAt:   s.clock.Now(),
	})
}

func notFound(id string) error {
	return domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"account_id": id})
}

func insufficientFunds(acc domain.Account, amount int64) error {
	return domain.NewError(domain.KindInsufficientFunds, "insufficient funds", domain.Fields{
		"account_id": acc.ID,
		"balance":    acc.Balance,
		"amount":     amount,
	})
}
