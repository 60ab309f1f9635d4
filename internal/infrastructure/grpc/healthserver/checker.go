package healthserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "ledger.v1.Ledger"

// Checker keeps the standard gRPC health service in step with a probe of the
// backing store.
type Checker struct {
	Health   *health.Server
	Probe    func(ctx context.Context) error
	Interval time.Duration
	Log      *zap.Logger
}

func NewChecker(probe func(ctx context.Context) error, interval time.Duration, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Checker{Health: health.NewServer(), Probe: probe, Interval: interval, Log: log}
}

// Run probes immediately and then every Interval until ctx is done, after
// which every service reports NOT_SERVING.
func (c *Checker) Run(ctx context.Context) {
	c.check(ctx)
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Health.Shutdown()
			return
		case <-t.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if c.Probe != nil {
		pctx, cancel := context.WithTimeout(ctx, c.Interval)
		err := c.Probe(pctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			c.Log.Warn("health.probe_failed", zap.Error(err))
		}
	}
	c.Health.SetServingStatus("", status)
	c.Health.SetServingStatus(ServiceName, status)
}
