package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ledger-service/internal/application"
	"ledger-service/internal/config"
	infraconfig "ledger-service/internal/infrastructure/config"
	"ledger-service/internal/infrastructure/httpx"
	"ledger-service/internal/infrastructure/memstore"
	"ledger-service/internal/infrastructure/pg"
	redisstore "ledger-service/internal/infrastructure/redis"
	"ledger-service/internal/infrastructure/sqlstore"
	"ledger-service/internal/infrastructure/worker"
)

var (
	ErrMissingDBURL      = errors.New("DATABASE_URL is required for STORAGE=pg")
	ErrMissingWebhookURL = errors.New("WEBHOOK_URL is required for PUBLISHER=webhook")
)

// Store is one backing store: its unit of work and the repositories that
// take part in it.
type Store struct {
	UoW       application.UnitOfWork
	Accounts  application.AccountRepo
	Transfers application.TransferRepo
	Outbox    application.OutboxRepo
	Ping      func(ctx context.Context) error
}

func noop() {}

// BuildStore opens the store selected by STORAGE ("pg", "sqlite" or "memory")
// and applies its migrations.
func BuildStore(ctx context.Context, cfg config.Config, log *zap.Logger) (Store, func(), error) {
	nesting, err := application.ParseNesting(cfg.Nesting)
	if err != nil {
		return Store{}, noop, err
	}
	runnerOpts := []application.RunnerOption{
		application.WithNesting(nesting),
		application.WithRollbackTimeout(cfg.RollbackTimeout),
		application.WithTxLogger(log),
	}

	switch cfg.Storage {
	case "pg":
		if cfg.DatabaseURL == "" {
			return Store{}, noop, ErrMissingDBURL
		}
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return Store{}, noop, err
		}
		if err := pg.RunMigrations(ctx, db); err != nil {
			db.Close()
			return Store{}, noop, err
		}
		cleanup := func() {
			log.Info("closing pg")
			db.Close()
		}
		return Store{
			UoW:       pg.NewUnitOfWork(db, runnerOpts...),
			Accounts:  pg.NewAccountRepo(db),
			Transfers: pg.NewTransferRepo(db),
			Outbox:    pg.NewOutboxRepo(db),
			Ping:      db.Ping,
		}, cleanup, nil

	case "sqlite":
		db, err := sqlstore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return Store{}, noop, err
		}
		if err := sqlstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return Store{}, noop, err
		}
		cleanup := func() {
			log.Info("closing sqlite")
			_ = db.Close()
		}
		return sqliteStore(db, nesting, log), cleanup, nil

	case "memory":
		s := memstore.New()
		return Store{
			UoW:       memstore.NewUoW(s, runnerOpts...),
			Accounts:  s.Accounts(),
			Transfers: s.Transfers(),
			Outbox:    s.Outbox(),
			Ping:      s.Ping,
		}, noop, nil

	default:
		return Store{}, noop, fmt.Errorf("unsupported STORAGE=%q", cfg.Storage)
	}
}

func sqliteStore(db *sql.DB, nesting application.Nesting, log *zap.Logger) Store {
	return Store{
		UoW:       sqlstore.NewTxManager(db, nesting, log),
		Accounts:  sqlstore.NewAccountRepo(db),
		Transfers: sqlstore.NewTransferRepo(db),
		Outbox:    sqlstore.NewOutboxRepo(db),
		Ping:      db.PingContext,
	}
}

func newRedis(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// BuildIdempotency returns the Redis store for IDEMPOTENCY_BACKEND=redis and a
// no-op store otherwise.
func BuildIdempotency(cfg config.Config) (application.IdempotencyStore, func(), error) {
	switch cfg.IdempotencyBackend {
	case "", "none":
		return application.NoopIdempotency{}, noop, nil
	case "redis":
		client := newRedis(cfg)
		return redisstore.New(client, cfg.IdempotencyTTL), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported IDEMPOTENCY_BACKEND=%q", cfg.IdempotencyBackend)
	}
}

// BuildPublisher returns the outbox event sink selected by PUBLISHER.
func BuildPublisher(cfg config.Config, log *zap.Logger) (application.EventPublisher, func(), error) {
	switch cfg.Publisher {
	case "", "log":
		return worker.LogPublisher{Log: log}, noop, nil
	case "redis":
		client := newRedis(cfg)
		pub := redisstore.NewStreamPublisher(client, cfg.OutboxStream, infraconfig.DefaultStreamMaxLen)
		return pub, func() { _ = client.Close() }, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, noop, ErrMissingWebhookURL
		}
		c := &httpx.Client{
			HTTP:       &http.Client{Timeout: 4 * time.Second},
			MaxElapsed: 10 * time.Second,
			Log:        log,
		}
		return httpx.NewWebhookPublisher(c, cfg.WebhookURL), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported PUBLISHER=%q", cfg.Publisher)
	}
}

func BuildService(st Store, idem application.IdempotencyStore, log *zap.Logger) *application.LedgerService {
	return application.NewLedgerService(st.UoW, st.Accounts, st.Transfers, st.Outbox,
		application.WithIdempotency(idem),
		application.WithLogger(log),
	)
}

func BuildRelay(st Store, pub application.EventPublisher, cfg config.Config, log *zap.Logger) *worker.OutboxRelay {
	return &worker.OutboxRelay{
		UoW:        st.UoW,
		Outbox:     st.Outbox,
		Publisher:  pub,
		PollEvery:  cfg.OutboxPoll,
		BatchLimit: cfg.OutboxBatch,
		Log:        log,
	}
}
