// Package app wires the stores and the resolution pipeline shared by the
// API server and the resolve CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/adapter"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/assettype"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/config"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/fundholdings"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/job"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/parser"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/ratelimit"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/securityinfo"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/service"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/storage"
)

// Stores holds the open database connections. ClickHouse is nil when
// history is disabled.
type Stores struct {
	Postgres   *storage.PostgresDB
	Redis      *redis.Client
	ClickHouse *storage.HistoryDB
}

// OpenStores connects to Postgres, Redis and, when configured, ClickHouse.
// History stays disabled while the ClickHouse history table is missing.
func OpenStores(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Stores, error) {
	logger.Info("Connecting to databases...")

	pg, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	rdb, err := storage.NewRedisClient(&cfg.Database.Redis)
	if err != nil {
		pg.Close()
		return nil, err
	}

	stores := &Stores{Postgres: pg, Redis: rdb}
	if cfg.Database.ClickHouse.Enabled() {
		ch, err := storage.NewHistoryDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			stores.Close()
			return nil, err
		}
		ready, err := ch.HistoryReady(ctx)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Could not verify history table, portfolio history disabled")
			_ = ch.Close()
		case !ready:
			logger.WithField("table", storage.HistoryTable).Warn("History table missing, run migrate -db clickhouse; portfolio history disabled")
			_ = ch.Close()
		default:
			stores.ClickHouse = ch
		}
	} else {
		logger.Info("ClickHouse not configured, portfolio history disabled")
	}

	logger.Info("Database connections established")
	return stores, nil
}

// Close closes every open connection
func (s *Stores) Close() {
	if s.ClickHouse != nil {
		_ = s.ClickHouse.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Postgres != nil {
		s.Postgres.Close()
	}
}

// portfolioReader joins the snapshot and holding repositories for the aggregator
type portfolioReader struct {
	*storage.SnapshotRepository
	*storage.HoldingRepository
}

// Pipeline is everything needed to ingest and resolve holdings
type Pipeline struct {
	Accounts  *storage.AccountRepository
	Snapshots *storage.SnapshotRepository
	Holdings  *storage.HoldingRepository
	Settings  *storage.SettingsRepository

	Cache        *securityinfo.Cache
	Registry     *parser.Registry
	Aggregator   *service.HoldingsAggregator
	History      *service.HistoryService
	Tracker      *job.Tracker
	Orchestrator *job.Orchestrator
}

// NewPipeline builds the provider clients, the security cache and the
// orchestrator. The tracker state of a previous process is restored.
func NewPipeline(ctx context.Context, cfg *config.Config, stores *Stores, logger *logging.Logger) (*Pipeline, error) {
	p := &Pipeline{
		Accounts:  storage.NewAccountRepository(stores.Postgres),
		Snapshots: storage.NewSnapshotRepository(stores.Postgres),
		Holdings:  storage.NewHoldingRepository(stores.Postgres),
		Settings:  storage.NewSettingsRepository(stores.Postgres, cfg.Settings.SnapshotRetention),
	}

	marketThrottle, err := newThrottle(stores.Redis, adapter.MarketDataProviderName, cfg.Resolution)
	if err != nil {
		return nil, err
	}
	fundThrottle, err := newThrottle(stores.Redis, adapter.FundDataProviderName, cfg.Resolution)
	if err != nil {
		return nil, err
	}

	market := adapter.NewMarketDataClient(clientOptions(cfg.Providers.MarketData, marketThrottle)...)
	funds := adapter.NewFundDataClient(clientOptions(cfg.Providers.FundData, fundThrottle)...)

	p.Cache, err = securityinfo.NewCache(securityinfo.Config{
		Path:     cfg.Resolution.CacheFile,
		Provider: market,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load security info cache: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"path":    cfg.Resolution.CacheFile,
		"entries": p.Cache.Len(),
	}).Info("Security info cache loaded")

	p.Registry = parser.NewDefaultRegistry(assettype.NewResolver(p.Cache, p.Cache))
	p.Aggregator = service.NewHoldingsAggregator(portfolioReader{p.Snapshots, p.Holdings})

	if stores.ClickHouse != nil {
		p.History = service.NewHistoryService(p.Aggregator, storage.NewHistoryRepository(stores.ClickHouse))
	} else {
		p.History = service.NewHistoryService(p.Aggregator, nil)
	}

	p.Tracker = job.NewTracker(
		storage.NewStatusStore(stores.Redis),
		job.WithRunLock(storage.NewRunLock(stores.Redis, storage.DefaultRunLockTTL)),
	)
	if err := p.Tracker.Restore(ctx); err != nil {
		logger.WithError(err).Warn("Failed to restore resolution status")
	}

	p.Orchestrator = job.NewOrchestrator(job.OrchestratorConfig{
		Store:                p.Holdings,
		Funds:                fundholdings.NewResolver(funds),
		Info:                 p.Cache,
		Tracker:              p.Tracker,
		MaxTransientAttempts: cfg.Resolution.MaxTransientAttempts,
		CommitBatchSize:      cfg.Resolution.CommitBatchSize,
		OnComplete:           p.History.RecordAfterResolution,
	})
	return p, nil
}

func newThrottle(rdb redis.Cmdable, provider string, cfg config.ResolutionConfig) (*ratelimit.Throttle, error) {
	budget, err := ratelimit.NewCallBudget(&ratelimit.CallBudgetConfig{
		Redis:    rdb,
		Provider: provider,
		Budget:   cfg.HourlyCallBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s call budget: %w", provider, err)
	}
	return ratelimit.NewThrottle(ratelimit.ThrottleConfig{
		MinDelay: cfg.MinProviderDelay,
		Budget:   budget,
	}), nil
}

// clientOptions paces every attempt, retries included, on the shared
// Redis budget so the server and the CLI draw from one hourly allowance.
func clientOptions(cfg config.ProviderConfig, pacer adapter.Pacer) []adapter.ClientOption {
	opts := []adapter.ClientOption{
		adapter.WithTimeout(cfg.Timeout),
		adapter.WithRateLimit(cfg.RequestsPerSecond),
		adapter.WithPacer(pacer),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, adapter.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, adapter.WithAPIKey(cfg.APIKey))
	}
	return opts
}
