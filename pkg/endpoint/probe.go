package endpoint

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/notno/agentcom-hub/pkg/config"
)

// Checker performs one health probe against an endpoint and reports the
// model list when available. Kept as an interface so tests substitute a
// fake rather than dialing real network addresses.
type Checker interface {
	Check(ctx context.Context, e Endpoint) (healthy bool, models []string)
}

// GRPCChecker probes an endpoint via the standard gRPC health-checking
// protocol, the same plaintext client-construction pattern tarsy's
// GRPCLLMClient uses for its sidecar LLM connections. Endpoints are
// expected to be fronted by a sidecar that implements the health
// service. Check reports only whether the empty service name is
// SERVING; it returns no model list, for any endpoint kind.
type GRPCChecker struct {
	// DialTimeout bounds each probe attempt so one unreachable endpoint
	// never stalls the whole probe round.
	DialTimeout time.Duration
}

func (c *GRPCChecker) Check(ctx context.Context, e Endpoint) (bool, []string) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.NewClient(e.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		slog.Warn("endpoint: probe dial failed", "endpoint_id", e.ID, "error", err)
		return false, nil
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return false, nil
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Prober runs a ticker-driven probe round over every registered
// endpoint at the configured interval (§4.5: "every probe_interval...
// asynchronously contact each endpoint").
type Prober struct {
	registry *Registry
	checker  Checker
	cfg      *config.Runtime

	stopCh chan struct{}
}

// NewProber wires a probe loop for registry using checker.
func NewProber(registry *Registry, checker Checker, cfg *config.Runtime) *Prober {
	return &Prober{registry: registry, checker: checker, cfg: cfg, stopCh: make(chan struct{})}
}

// Start launches the probe loop in a goroutine. Stop (or ctx
// cancellation) ends it.
func (p *Prober) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop ends the probe loop.
func (p *Prober) Stop() {
	close(p.stopCh)
}

func (p *Prober) run(ctx context.Context) {
	interval := p.cfg.ProbeInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runRound(ctx)
			if next := p.cfg.ProbeInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (p *Prober) runRound(ctx context.Context) {
	for _, id := range p.registry.ids() {
		addr, kind, ok := p.registry.addressOf(id)
		if !ok {
			continue
		}
		healthy, models := p.checker.Check(ctx, Endpoint{ID: id, Address: addr, Kind: kind})
		p.registry.recordProbe(id, healthy, models)
	}
}
