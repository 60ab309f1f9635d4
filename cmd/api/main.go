package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledger-service/internal/bootstrap"
	"ledger-service/internal/config"
	infraconfig "ledger-service/internal/infrastructure/config"
	"ledger-service/internal/infrastructure/grpc/healthclient"
	"ledger-service/internal/infrastructure/grpc/healthserver"
	"ledger-service/internal/infrastructure/logx"
)

func init() { _ = godotenv.Load() }

func main() {
	logger := logx.L()
	cfg := config.Load()

	// `api healthcheck` probes a running instance over gRPC, for container
	// health checks.
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck(cfg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := bootstrap.InitAPI(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap api", zap.Error(err))
	}
	defer cleanup()

	addr := ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: app.Handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return healthserver.RunServer(gctx, cfg.GRPCAddr, app.Health, logger)
	})
	if app.Relay != nil {
		g.Go(func() error {
			app.Relay.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), infraconfig.DefaultShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func healthcheck(cfg config.Config) int {
	ctx := context.Background()
	target := cfg.GRPCAddr
	if len(target) > 0 && target[0] == ':' {
		target = "localhost" + target
	}
	c, closeConn, err := healthclient.New(ctx, target)
	if err != nil {
		logx.L().Error("healthcheck dial", zap.Error(err))
		return 1
	}
	defer closeConn()
	if err := c.Check(ctx, healthserver.ServiceName, infraconfig.DefaultProbeInterval); err != nil {
		logx.L().Error("healthcheck", zap.Error(err))
		return 1
	}
	return 0
}
