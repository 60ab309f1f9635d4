package bootstrap

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"ledger-service/internal/config"
	infraconfig "ledger-service/internal/infrastructure/config"
	"ledger-service/internal/infrastructure/grpc/healthserver"
	httpserver "ledger-service/internal/infrastructure/http"
	"ledger-service/internal/infrastructure/worker"
)

// API is everything cmd/api serves.
type API struct {
	Handler http.Handler
	Health  *healthserver.Checker
	// Relay is set when OUTBOX_RELAY=inline asks the API process to relay too.
	Relay *worker.OutboxRelay
}

func InitAPI(ctx context.Context, cfg config.Config, log *zap.Logger) (*API, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	st, closeStore, err := BuildStore(ctx, cfg, log)
	if err != nil {
		return nil, noop, err
	}
	cleanups = append(cleanups, closeStore)

	idem, closeIdem, err := BuildIdempotency(cfg)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	cleanups = append(cleanups, closeIdem)

	srv := httpserver.NewServer(BuildService(st, idem, log))
	srv.SetReadyCheck(st.Ping)
	srv.SetRequestTimeout(cfg.RequestTimeout)

	app := &API{
		Handler: httpserver.NewRouter(srv),
		Health:  healthserver.NewChecker(st.Ping, infraconfig.DefaultProbeInterval, log),
	}
	if cfg.OutboxRelay == "inline" {
		pub, closePub, err := BuildPublisher(cfg, log)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		cleanups = append(cleanups, closePub)
		app.Relay = BuildRelay(st, pub, cfg, log)
	}
	return app, cleanup, nil
}

// InitWorker builds the standalone outbox relay.
func InitWorker(ctx context.Context, cfg config.Config, log *zap.Logger) (*worker.OutboxRelay, func(), error) {
	st, closeStore, err := BuildStore(ctx, cfg, log)
	if err != nil {
		return nil, noop, err
	}
	pub, closePub, err := BuildPublisher(cfg, log)
	if err != nil {
		closeStore()
		return nil, noop, err
	}
	return BuildRelay(st, pub, cfg, log), func() { closePub(); closeStore() }, nil
}
