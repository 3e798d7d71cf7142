// Package engine wires configuration, a flow topology, and the optional
// Prometheus endpoint together into a runnable process, and owns the
// signal-driven graceful shutdown.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"flowbridge.dev/flowbridge/internal/config"
	"flowbridge.dev/flowbridge/internal/core"
	"flowbridge.dev/flowbridge/internal/flow"
	"flowbridge.dev/flowbridge/internal/log"
	"flowbridge.dev/flowbridge/internal/metrics"
)

// Runner owns one flow's full lifetime: config load, construction, signal
// handling, and final metrics reporting.
type Runner struct {
	cfg         *config.GlobalConfig
	flow        *flow.Flow
	metricsServ *metrics.Server
	collector   *metrics.Collector
}

// New loads configuration from path, initializes logging, and builds the
// flow for the configured mode. Any failure here is a ConfigError and the
// caller should exit non-zero without ever calling Run.
func New(path string, logLevelOverride string) (*Runner, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("engine: %w", err))
	}
	if logLevelOverride != "" {
		cfg.Log.Level = logLevelOverride
	}
	if err := log.Init(cfg.Log, cfg.Mode); err != nil {
		return nil, core.NewConfigError(fmt.Errorf("engine: logging: %w", err))
	}

	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		collector.EnablePrometheus(string(cfg.Mode))
	}

	var f *flow.Flow
	switch cfg.Mode {
	case config.ModeFunnel:
		f, err = flow.NewFunnel(cfg, collector)
	case config.ModeFan:
		f, err = flow.NewFan(cfg, collector)
	case config.ModeOneToOne:
		f, err = flow.NewOneToOne(cfg, collector)
	default:
		err = core.NewConfigError(fmt.Errorf("engine: unknown mode %q", cfg.Mode))
	}
	if err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg, flow: f, collector: collector}
	if cfg.Metrics.Enabled {
		r.metricsServ = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		r.metricsServ.SetStateFunc(func() string { return f.State().String() })
	}
	return r, nil
}

// Run starts the flow, blocks until SIGINT/SIGTERM or the flow fails, drains
// within the configured shutdown budget, and returns a process exit code.
func (r *Runner) Run(ctx context.Context) int {
	if r.metricsServ != nil {
		if err := r.metricsServ.Start(ctx); err != nil {
			slog.Error("failed to start metrics server", "error", err)
			return 1
		}
	}

	if err := r.flow.Start(ctx); err != nil {
		slog.Error("failed to start flow", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("context cancelled")
	case <-r.flow.Done():
		slog.Warn("flow reached a terminal state on its own", "state", r.flow.State())
	}

	if err := r.flow.Stop(); err != nil {
		slog.Warn("flow shutdown did not complete cleanly", "error", err)
	}
	if r.metricsServ != nil {
		if err := r.metricsServ.Stop(context.Background()); err != nil {
			slog.Error("failed to stop metrics server", "error", err)
		}
	}

	r.logFinalSnapshot()

	if r.flow.State() == flow.Failed {
		return 1
	}
	return 0
}

func (r *Runner) logFinalSnapshot() {
	for _, side := range []metrics.Side{metrics.Source, metrics.Destination} {
		for topic, snap := range r.collector.Snapshot(side) {
			slog.Info("final metrics",
				"side", side.String(),
				"topic", topic,
				"messages", snap.MessageCount,
				"bytes", snap.TotalBytes,
				"errors", snap.ErrorCount,
				"rate_per_second", snap.RatePerSecond,
			)
		}
	}
}
