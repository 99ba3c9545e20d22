package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	s3blob "github.com/tidewatch/futuresmon/internal/blob/s3"
	"github.com/tidewatch/futuresmon/internal/cache/redis"
	"github.com/tidewatch/futuresmon/internal/config"
	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/monitor"
	"github.com/tidewatch/futuresmon/internal/notify"
	"github.com/tidewatch/futuresmon/internal/platform/binance"
	"github.com/tidewatch/futuresmon/internal/render"
	"github.com/tidewatch/futuresmon/internal/store/file"
	"github.com/tidewatch/futuresmon/internal/store/postgres"
)

// Dependencies bundles everything the application lifecycle needs: the
// exchange clients, one delivery channel per distinct webhook, the
// per-category publishers, and the persistence backends. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Rest   domain.RestAPI
	Stream *binance.StreamClient

	// Channels holds one delivery channel per distinct webhook URL.
	Channels []*notify.Channel
	// Publishers maps alert categories to their channel.
	Publishers map[string]*monitor.Publisher

	Vars         domain.VarStore
	SummaryCSV   *file.CSVAppender
	PositionsCSV *file.CSVAppender
	OrdersCSV    *file.CSVAppender

	Dedup    domain.DedupStore
	Sink     domain.ReportSink // nil without postgres
	Archiver *s3blob.Archiver  // nil without s3
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange clients ---
	deps.Rest = binance.NewRestClient(cfg.Binance.ApiKey, cfg.Binance.ApiSecret, cfg.Binance.Testnet)
	deps.Stream = binance.NewStreamClient(cfg.Binance.WsHost, cfg.Market.Speed, logger)

	// --- Delivery channels, one per distinct webhook URL ---
	deps.Channels, deps.Publishers = buildChannels(cfg, logger)

	// --- File-backed state ---
	vars, err := file.NewVarStore(filepath.Join(cfg.Storage.DataDir, "var.json"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: var store: %w", err)
	}
	deps.Vars = vars
	if deps.SummaryCSV, err = file.NewCSVAppender(filepath.Join(cfg.Storage.DataDir, "position_summary.csv")); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: summary csv: %w", err)
	}
	if deps.PositionsCSV, err = file.NewCSVAppender(filepath.Join(cfg.Storage.DataDir, "positions.csv")); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: positions csv: %w", err)
	}
	if deps.OrdersCSV, err = file.NewCSVAppender(filepath.Join(cfg.Storage.DataDir, "orders.csv")); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: orders csv: %w", err)
	}

	// --- Redis dedup (optional, falls back to in-process) ---
	if cfg.Redis.Addr != "" {
		dedup, err := redis.NewDedupStore(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = dedup.Close() })
		deps.Dedup = dedup
	} else {
		deps.Dedup = monitor.NewMemoryDedup()
	}

	// --- PostgreSQL report sink (optional) ---
	if cfg.Postgres.DSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		deps.Sink = postgres.NewReportStore(pgClient.Pool())
	}

	// --- S3 report archiver (optional) ---
	if cfg.S3.Bucket != "" {
		archiver, err := s3blob.NewArchiver(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = archiver
	}

	return deps, cleanup, nil
}

// buildChannels creates one delivery channel per distinct webhook URL and
// maps every alert category onto its channel's publisher. Categories listed
// in best_effort get a drop-rather-than-block channel; when categories of
// both modes share one URL, blocking wins.
func buildChannels(cfg *config.Config, logger *slog.Logger) ([]*notify.Channel, map[string]*monitor.Publisher) {
	urls := map[string]string{
		"position": cfg.Webhooks.Position,
		"market":   cfg.Webhooks.Market,
		"order":    cfg.Webhooks.Order,
		"exchange": cfg.Webhooks.Exchange,
	}
	bestEffort := make(map[string]bool, len(cfg.Webhooks.BestEffort))
	for _, cat := range cfg.Webhooks.BestEffort {
		bestEffort[cat] = true
	}

	byURL := make(map[string][]string)
	for cat, url := range urls {
		byURL[url] = append(byURL[url], cat)
	}

	var channels []*notify.Channel
	publishers := make(map[string]*monitor.Publisher, len(urls))
	for url, cats := range byURL {
		sort.Strings(cats)
		mode := notify.BestEffort
		for _, cat := range cats {
			if !bestEffort[cat] {
				mode = notify.Blocking
				break
			}
		}

		name := strings.Join(cats, "+")
		ch := notify.NewChannel(name, notify.NewFeishuSender(url), mode, render.Lifecycle(name), logger)
		channels = append(channels, ch)

		pub := monitor.NewPublisher(ch, logger.With(slog.String("channel", name)))
		for _, cat := range cats {
			publishers[cat] = pub
		}
	}
	return channels, publishers
}
