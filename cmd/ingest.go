package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lepinkainen/reelbase/internal/config"
	"github.com/lepinkainen/reelbase/internal/metrics"
	"github.com/lepinkainen/reelbase/internal/omdb"
	"github.com/lepinkainen/reelbase/internal/pipeline"
	"github.com/lepinkainen/reelbase/internal/retry"
	"github.com/lepinkainen/reelbase/internal/store"
	"github.com/lepinkainen/reelbase/internal/tui"
)

// runProgress is swapped out in tests.
var runProgress = tui.RunProgress

// IngestCmd represents the ingest command
type IngestCmd struct {
	Movies    string `short:"m" help:"Path to the catalog CSV (overrides catalog.movies_csv)" type:"path"`
	Ratings   string `short:"r" help:"Path to the ratings CSV (overrides catalog.ratings_csv)" type:"path"`
	NoRatings bool   `help:"Skip the ratings file"`
	Workers   int    `short:"w" help:"Concurrent lookups (overrides pipeline.workers)"`
	Offline   bool   `help:"Do not call OMDb; use only cached answers"`
	Progress  bool   `help:"Show a progress bar instead of log output"`
	LogFile   string `help:"Where logs go while the progress bar is shown" default:"reelbase.log" type:"path"`
}

func (c *IngestCmd) Run(env *runEnv) error {
	cfg := env.cfg
	if c.Movies != "" {
		cfg.Catalog.MoviesCSV = c.Movies
	}
	if c.Ratings != "" {
		cfg.Catalog.RatingsCSV = c.Ratings
	}
	if c.NoRatings {
		cfg.Catalog.RatingsCSV = ""
	}
	if c.Workers > 0 {
		cfg.Pipeline.Workers = c.Workers
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if c.Progress {
		restore, err := logToFile(c.LogFile, cfg.Log.SlogLevel())
		if err != nil {
			return err
		}
		defer restore()
	}

	run, err := startRun(env.ctx, cfg, c.Offline)
	if err != nil {
		return err
	}
	defer run.close()

	pcfg := pipeline.Config{
		MoviesCSV:    cfg.Catalog.MoviesCSV,
		RatingsCSV:   cfg.Catalog.RatingsCSV,
		Workers:      cfg.Pipeline.Workers,
		RatingsBatch: cfg.Pipeline.RatingsBatch,
	}

	ingest := func(ctx context.Context, report func(pipeline.Progress)) error {
		opts := run.pipelineOptions()
		if report != nil {
			opts = append(opts, pipeline.WithProgress(report))
		}
		p, err := pipeline.New(ctx, pcfg, run.db, run.client, run.cache, opts...)
		if err != nil {
			return err
		}
		return p.Run(ctx)
	}

	if c.Progress {
		err = runProgress(env.ctx, "Ingesting "+cfg.Catalog.MoviesCSV, ingest)
	} else {
		err = ingest(env.ctx, nil)
	}
	return run.finish(env.ctx, err)
}

// runState holds what a single ingest or backfill run shares.
type runState struct {
	id      string
	cfg     config.Config
	started time.Time
	db      *store.DB
	client  *omdb.Client
	cache   *omdb.LookupCache
	metrics *metrics.Run
	retrier *retry.Retrier
	logger  *slog.Logger
}

// startRun tags the log with a fresh run id and opens the store, the cache
// and the OMDb client.
func startRun(ctx context.Context, cfg config.Config, offline bool) (*runState, error) {
	id := uuid.NewString()
	previous := slog.Default()
	slog.SetDefault(previous.With("run_id", id))

	db, err := openStore(ctx, cfg.Store, true)
	if err != nil {
		slog.SetDefault(previous)
		return nil, err
	}
	lc, err := openLookupCache(cfg.Cache.File)
	if err != nil {
		_ = db.Close()
		slog.SetDefault(previous)
		return nil, err
	}

	m := metrics.NewRun()
	r := &runState{
		id:      id,
		cfg:     cfg,
		started: time.Now(),
		db:      db,
		client:  newOMDbClient(cfg.OMDb, offline),
		cache:   lc,
		metrics: m,
		retrier: retry.New(cfg.Store.RetryAttempts, cfg.Store.RetryDelay, retry.WithRetryHook(m.LockRetry)),
		logger:  previous,
	}

	stats := lc.Stats()
	slog.Info("Run started", "store", cfg.Store.Driver, "cache", lc.Path(), "cached", stats.Total, "cached_misses", stats.Negative)
	return r, nil
}

func (r *runState) pipelineOptions() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithRetrier(r.retrier),
		pipeline.WithMetrics(r.metrics),
	}
}

// finish records the run's outcome and pushes its metrics. A failed push is
// logged but does not fail the run.
func (r *runState) finish(ctx context.Context, runErr error) error {
	r.metrics.Finish(r.started, runErr == nil)

	if r.cfg.Metrics.PushURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.metrics.Push(pushCtx, r.cfg.Metrics.PushURL, r.cfg.Metrics.Job, r.id); err != nil {
			slog.Warn("Failed to push run metrics", "error", err)
		}
	}
	return runErr
}

func (r *runState) close() {
	if err := r.db.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
	slog.SetDefault(r.logger)
}

// logToFile sends logging to path until the returned function is called.
func logToFile(path string, level slog.Level) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	previous := slog.Default()
	initLogging(f, level)
	return func() {
		slog.SetDefault(previous)
		_ = f.Close()
	}, nil
}
