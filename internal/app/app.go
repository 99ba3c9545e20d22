// Package app wires the monitor daemon together: exchange clients, delivery
// channels, persistence backends and the supervised monitors, plus the
// application lifecycle around them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidewatch/futuresmon/internal/config"
	"github.com/tidewatch/futuresmon/internal/monitor"
	"github.com/tidewatch/futuresmon/internal/timeutil"
)

// archiveMinute is the wall-clock minute past midnight UTC of the daily
// report upload.
const archiveMinute = 5

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, opens the delivery channels and the market
// stream, starts the enabled monitors, and blocks until the context is
// cancelled. Monitors stop in reverse start order; channels drain last so
// every alert raised during shutdown still goes out.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting monitor",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	for _, ch := range deps.Channels {
		ch.Start()
	}
	a.closers = append(a.closers, func() {
		for i := len(deps.Channels) - 1; i >= 0; i-- {
			deps.Channels[i].Stop()
		}
	})

	supervisor, err := a.buildSupervisor(deps)
	if err != nil {
		return err
	}

	// Handlers are registered by the monitor constructors above, so the
	// stream can connect now.
	if err := deps.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect stream: %w", err)
	}
	a.closers = append(a.closers, func() { _ = deps.Stream.Close() })

	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	if err := supervisor.Stop(); err != nil {
		a.logger.Error("supervisor stop", slog.String("error", err.Error()))
	}
	return ctx.Err()
}

// buildSupervisor assembles the enabled monitors in their start order.
func (a *App) buildSupervisor(deps *Dependencies) (*monitor.Supervisor, error) {
	supervisor := monitor.NewSupervisor(a.logger)

	if a.cfg.Position.Enabled {
		supervisor.Register(monitor.NewPositionMonitor(
			monitor.PositionConfig{
				Minute:               a.cfg.Position.Minute,
				DrawdownThresholdPct: a.cfg.Position.DrawdownThresholdPct,
			},
			deps.Rest,
			deps.Publishers["position"],
			deps.Vars,
			deps.SummaryCSV,
			deps.PositionsCSV,
			deps.Sink,
			a.logger,
		))
	}

	if a.cfg.Market.Enabled {
		m, err := monitor.NewMarketMonitor(
			monitor.MarketConfig{
				Thresholds: a.cfg.Market.Thresholds,
				MaxSamples: a.cfg.Market.MaxSamples,
			},
			deps.Rest,
			deps.Stream,
			deps.Publishers["market"],
			deps.Dedup,
			a.logger,
		)
		if err != nil {
			return nil, fmt.Errorf("app: market monitor: %w", err)
		}
		supervisor.Register(m)
	}

	if a.cfg.Order.Enabled {
		retentionMs, err := timeutil.ParseInterval(a.cfg.Order.BookTickerRetention)
		if err != nil {
			return nil, fmt.Errorf("app: order bookticker retention: %w", err)
		}
		supervisor.Register(monitor.NewOrderMonitor(
			monitor.OrderConfig{
				BookTickerRetentionMs: retentionMs,
				MaxTickets:            a.cfg.Order.MaxTickets,
			},
			deps.Rest,
			deps.Stream,
			deps.Publishers["order"],
			deps.OrdersCSV,
			deps.Sink,
			a.logger,
		))
	}

	if a.cfg.Exchange.Enabled {
		supervisor.Register(monitor.NewExchangeMonitor(
			monitor.ExchangeConfig{Minute: a.cfg.Exchange.Minute},
			deps.Rest,
			deps.Publishers["exchange"],
			deps.Dedup,
			a.logger,
		))
	}

	if deps.Archiver != nil {
		supervisor.Register(monitor.NewTaskMonitor("archive", a.logger, monitor.Task{
			Name: "daily upload",
			Run:  a.archiveLoop(deps),
		}))
	}

	return supervisor, nil
}

// archiveLoop uploads the report CSV files shortly after each UTC midnight.
func (a *App) archiveLoop(deps *Dependencies) func(ctx context.Context) error {
	paths := []string{
		deps.SummaryCSV.Path(),
		deps.PositionsCSV.Path(),
		deps.OrdersCSV.Path(),
	}
	return func(ctx context.Context) error {
		for {
			now := time.Now().UTC()
			next := time.Date(now.Year(), now.Month(), now.Day(), 0, archiveMinute, 0, 0, time.UTC)
			for !next.After(now) {
				next = next.Add(24 * time.Hour)
			}
			if !timeutil.Sleep(ctx, next.Sub(now)) {
				return nil
			}
			// Upload under the previous day's key: the files cover that day.
			day := time.Now().UTC().Add(-time.Hour)
			if err := deps.Archiver.ArchiveFiles(ctx, day, paths); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error("report archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
