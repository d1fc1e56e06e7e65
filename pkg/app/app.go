// Package app wires the EDGAR client, ticker cache, pipeline, store and metrics
// from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"edgar_reconciler/pkg/config"
	"edgar_reconciler/pkg/core/cikcache"
	"edgar_reconciler/pkg/core/edgar"
	"edgar_reconciler/pkg/core/fetcher"
	"edgar_reconciler/pkg/core/locator"
	"edgar_reconciler/pkg/core/lookup"
	"edgar_reconciler/pkg/core/metrics"
	"edgar_reconciler/pkg/core/pipeline"
	"edgar_reconciler/pkg/core/store"
)

type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Metrics      *metrics.Registry
	Client       *edgar.Client
	Tickers      *cikcache.Cache
	Orchestrator *pipeline.Orchestrator
	Results      *store.ResultStore
	Finder       *lookup.Finder

	redis    *redis.Client
	database bool
}

// New builds the object graph. Redis and PostgreSQL are optional: when either is
// configured but unreachable the app logs a warning and runs without it.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewRegistry()}

	aliases := lookup.DefaultAliases()
	if cfg.AliasesFile != "" {
		var err error
		if aliases, err = lookup.LoadAliases(cfg.AliasesFile); err != nil {
			return nil, err
		}
	}
	a.Finder = lookup.NewFinder(aliases)

	a.Client = edgar.NewClient(
		edgar.WithHTTPClient(&http.Client{Timeout: cfg.SEC.Timeout}),
		edgar.WithUserAgent(cfg.SEC.UserAgent),
		edgar.WithBaseURLs(cfg.SEC.DataBaseURL, cfg.SEC.WWWBaseURL),
		edgar.WithRequestDelay(cfg.SEC.RequestDelay),
		edgar.WithMaxAttempts(cfg.SEC.MaxAttempts),
		edgar.WithLogger(logger),
		edgar.WithResponseHook(a.Metrics.UpstreamResponse),
	)

	backends := []cikcache.Backend{}
	if cfg.Cache.RedisURL != "" {
		if rb, err := a.connectRedis(ctx, cfg.Cache); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, ticker cache runs without it")
		} else {
			backends = append(backends, rb)
		}
	}
	backends = append(backends, cikcache.NewDiskBackend(cfg.Cache.TickersPath()))

	a.Tickers = cikcache.New(a.Client,
		cikcache.WithTTL(cfg.Cache.TTL),
		cikcache.WithBackends(backends...),
		cikcache.WithLogger(logger),
		cikcache.WithObserver(a.Metrics.CIKLookup),
	)

	var db store.DB
	if cfg.Store.DatabaseURL != "" {
		if err := store.InitDB(ctx, cfg.Store.DatabaseURL); err != nil {
			logger.Warn().Err(err).Msg("database unavailable, results go to the file vault")
		} else {
			db = store.GetPool()
			a.database = true
		}
	}
	a.Results = store.NewResultStore(db, cfg.Cache.ResultsDir(), logger)

	loc := locator.New(a.Tickers, a.Client, locator.WithLogger(logger), locator.WithConfig(cfg.Locator))
	fetch := fetcher.New(a.Client, fetcher.WithLogger(logger))
	a.Orchestrator = pipeline.NewOrchestrator(loc, fetch, cfg.Pipeline,
		pipeline.WithLogger(logger),
		pipeline.WithRepository(a.Results),
		pipeline.WithRecorder(a.Metrics),
	)

	return a, nil
}

func (a *App) connectRedis(ctx context.Context, cfg config.Cache) (*cikcache.RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	a.redis = client
	return cikcache.NewRedisBackend(client, cfg.TTL), nil
}

// Refresher schedules ticker list refreshes for long-running processes.
func (a *App) Refresher() (*cikcache.Refresher, error) {
	return cikcache.NewRefresher(a.Tickers, a.Config.Cache.RefreshSchedule, a.Logger)
}

// Close releases the Redis client and the database pool.
func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.database {
		store.Close()
	}
}
