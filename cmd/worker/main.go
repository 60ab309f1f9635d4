package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ledger-service/internal/bootstrap"
	"ledger-service/internal/config"
	"ledger-service/internal/infrastructure/logx"
)

func init() { _ = godotenv.Load() }

func main() {
	log := logx.L()
	cfg := config.Load()
	if cfg.Storage == "memory" {
		log.Fatal("STORAGE=memory cannot be shared with the api process; use OUTBOX_RELAY=inline instead")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, cleanup, err := bootstrap.InitWorker(ctx, cfg, log)
	if err != nil {
		log.Fatal("init worker", zap.Error(err))
	}
	defer cleanup()
	relay.Start(ctx)
}
