// Package pipeline runs the catalog and ratings ingest: every movie is
// enriched through the lookup cache and the OMDb client, its genres and
// directors are resolved to ids, and the result is upserted transactionally.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lepinkainen/reelbase/internal/catalog"
	"github.com/lepinkainen/reelbase/internal/metrics"
	"github.com/lepinkainen/reelbase/internal/omdb"
	"github.com/lepinkainen/reelbase/internal/resolver"
	"github.com/lepinkainen/reelbase/internal/retry"
	"github.com/lepinkainen/reelbase/internal/store"
	"github.com/lepinkainen/reelbase/internal/upsert"
)

// DefaultRatingsBatch is the number of ratings written per transaction.
const DefaultRatingsBatch = 500

// backfillPage is how many movies Backfill reads from the store at a time.
const backfillPage = 200

// Config selects the inputs and the degree of parallelism.
type Config struct {
	MoviesCSV    string
	RatingsCSV   string
	Workers      int
	RatingsBatch int
}

// Stage names a phase of a run for progress reporting.
type Stage string

const (
	StageMovies   Stage = "movies"
	StageRatings  Stage = "ratings"
	StageBackfill Stage = "backfill"
)

// Progress is reported after every stored movie and every ratings batch.
// Total is zero when the size of the stage is not known up front.
type Progress struct {
	Stage Stage
	Done  int64
	Total int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetrier sets the retrier used for store writes.
func WithRetrier(r *retry.Retrier) Option {
	return func(p *Pipeline) {
		p.retrier = r
	}
}

// WithMetrics records run counters into m.
func WithMetrics(m *metrics.Run) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithProgress registers a progress callback. It is called from the writer
// goroutine only.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// Pipeline wires the sources, enrichment and store together.
type Pipeline struct {
	cfg      Config
	db       *store.DB
	client   *omdb.Client
	cache    *omdb.LookupCache
	retrier  *retry.Retrier
	metrics  *metrics.Run
	progress func(Progress)

	engine    *upsert.Engine
	genres    *resolver.Resolver
	directors *resolver.Resolver

	stats Stats
}

// New builds a pipeline writing to db. The genre and director resolvers are
// seeded from the store here, so db must already be migrated.
func New(ctx context.Context, cfg Config, db *store.DB, client *omdb.Client, lc *omdb.LookupCache, opts ...Option) (*Pipeline, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RatingsBatch < 1 {
		cfg.RatingsBatch = DefaultRatingsBatch
	}

	p := &Pipeline{cfg: cfg, db: db, client: client, cache: lc}
	for _, opt := range opts {
		opt(p)
	}
	if p.retrier == nil {
		p.retrier = retry.New(retry.DefaultAttempts, retry.DefaultDelay)
	}

	var err error
	if p.genres, err = resolver.New(ctx, db, store.Genres, p.retrier); err != nil {
		return nil, err
	}
	if p.directors, err = resolver.New(ctx, db, store.Directors, p.retrier); err != nil {
		return nil, err
	}
	p.engine = upsert.NewEngine(db, p.retrier)

	return p, nil
}

// Stats returns the counters of the pipeline's runs so far.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// Run ingests the catalog and then the ratings file. The lookup cache is
// saved when Run returns, also after a failure or cancellation.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		err = p.saveCache(err)
	}()

	if p.cfg.MoviesCSV == "" {
		return errors.New("no catalog file configured")
	}

	slog.Info("Ingesting catalog", "file", p.cfg.MoviesCSV, "workers", p.cfg.Workers, "offline", p.client.Offline())
	if err := p.ingestMovies(ctx); err != nil {
		return err
	}

	if p.cfg.RatingsCSV == "" {
		slog.Info("No ratings file configured, skipping ratings")
	} else {
		slog.Info("Ingesting ratings", "file", p.cfg.RatingsCSV, "batch", p.cfg.RatingsBatch)
		if err := p.ingestRatings(ctx); err != nil {
			return err
		}
	}

	slog.Info("Ingest complete",
		"stats", &p.stats,
		"genres_created", p.genres.Created(),
		"directors_created", p.directors.Created(),
		"omdb_requests", p.client.Requests(),
		"duration", time.Since(started).Round(time.Millisecond))
	return nil
}

// Backfill re-enriches movies already in the store and applies the complete
// record plus director links. Genre links are left as they are.
func (p *Pipeline) Backfill(ctx context.Context, filter store.BackfillFilter) (err error) {
	started := time.Now()
	defer func() {
		err = p.saveCache(err)
	}()

	remaining := filter.Limit
	var done int64
	for {
		page := store.BackfillFilter{MissingOnly: filter.MissingOnly, AfterID: filter.AfterID, Limit: backfillPage}
		if remaining > 0 && remaining < page.Limit {
			page.Limit = remaining
		}

		movies, err := store.ListMovies(ctx, p.db, page)
		if err != nil {
			return fmt.Errorf("failed to list movies for backfill: %w", err)
		}
		if len(movies) == 0 {
			break
		}

		for _, sm := range movies {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !p.client.Offline() && !p.client.RequestsAllowed() {
				slog.Warn("OMDb request limit reached, stopping backfill", "processed", done)
				return nil
			}

			m := catalog.Movie{MovieID: sm.ID, RawTitle: sm.Title, Title: sm.Title, Year: sm.Year}
			res, err := p.enrich(ctx, m)
			if err != nil {
				return err
			}
			if err := p.storeMovie(ctx, m, res); err != nil {
				return err
			}

			done++
			p.report(Progress{Stage: StageBackfill, Done: done, Total: int64(filter.Limit)})
		}

		filter.AfterID = movies[len(movies)-1].ID
		if remaining > 0 {
			remaining -= len(movies)
			if remaining <= 0 {
				break
			}
		}
	}

	slog.Info("Backfill complete",
		"movies", done,
		"stats", &p.stats,
		"directors_created", p.directors.Created(),
		"duration", time.Since(started).Round(time.Millisecond))
	return nil
}

func (p *Pipeline) saveCache(runErr error) error {
	if p.cache == nil {
		return runErr
	}
	if err := p.cache.Save(); err != nil {
		slog.Error("Failed to save lookup cache", "path", p.cache.Path(), "error", err)
		if runErr == nil {
			return fmt.Errorf("failed to save lookup cache: %w", err)
		}
	}
	return runErr
}

// enriched is a catalog movie with its lookup result, handed from the lookup
// workers to the writer.
type enriched struct {
	movie  catalog.Movie
	result omdb.Result
}

func (p *Pipeline) ingestMovies(ctx context.Context) error {
	var total int64
	if p.progress != nil {
		if err := catalog.ReadMovies(p.cfg.MoviesCSV, func(catalog.Movie) error {
			total++
			return nil
		}); err != nil {
			return err
		}
	}

	var done int64
	write := func(ctx context.Context, e enriched) error {
		if err := p.storeMovie(ctx, e.movie, e.result); err != nil {
			return err
		}
		done++
		p.report(Progress{Stage: StageMovies, Done: done, Total: total})
		return nil
	}

	if p.cfg.Workers == 1 {
		return catalog.ReadMovies(p.cfg.MoviesCSV, func(m catalog.Movie) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.enrich(ctx, m)
			if err != nil {
				return err
			}
			return write(ctx, enriched{movie: m, result: res})
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan enriched, p.cfg.Workers)

	g.Go(func() error {
		defer close(results)

		lookups, lctx := errgroup.WithContext(gctx)
		lookups.SetLimit(p.cfg.Workers)

		readErr := catalog.ReadMovies(p.cfg.MoviesCSV, func(m catalog.Movie) error {
			if err := lctx.Err(); err != nil {
				return err
			}
			lookups.Go(func() error {
				res, err := p.enrich(lctx, m)
				if err != nil {
					return err
				}
				select {
				case results <- enriched{movie: m, result: res}:
					return nil
				case <-lctx.Done():
					return lctx.Err()
				}
			})
			return nil
		})
		if err := lookups.Wait(); err != nil {
			return err
		}
		return readErr
	})

	g.Go(func() error {
		for e := range results {
			if err := write(gctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// enrich looks the movie up through the cache.
func (p *Pipeline) enrich(ctx context.Context, m catalog.Movie) (omdb.Result, error) {
	res, hit, err := p.client.LookupCached(ctx, p.cache, m.Title, m.Year)
	if err != nil {
		return res, fmt.Errorf("failed to enrich movie %d: %w", m.MovieID, err)
	}

	p.stats.addLookup(res.Outcome, hit)
	p.metrics.Cache(hit)
	p.metrics.Lookup(res.Outcome.String())

	slog.Debug("Enriched movie", "movie_id", m.MovieID, "title", m.Title, "outcome", res.Outcome.String(), "cached", hit)
	return res, nil
}

// storeMovie resolves the movie's names and writes it. A Found result
// overwrites the enrichment columns, NotFound clears them, and Unavailable
// keeps whatever is stored.
func (p *Pipeline) storeMovie(ctx context.Context, m catalog.Movie, res omdb.Result) error {
	row := store.Movie{ID: m.MovieID, Title: m.Title, Year: m.Year}

	var opts []upsert.ApplyOption
	switch res.Outcome {
	case omdb.Found:
		row.ImdbID = res.Record.ImdbID
		row.Plot = res.Record.Plot
		row.BoxOffice = res.Record.BoxOffice
		row.Runtime = res.Record.Runtime
	case omdb.Unavailable:
		opts = append(opts, upsert.KeepEnrichment())
	}

	genreIDs, err := p.genres.ResolveAll(ctx, m.Genres)
	if err != nil {
		return fmt.Errorf("failed to resolve genres of movie %d: %w", m.MovieID, err)
	}
	directorIDs, err := p.directors.ResolveAll(ctx, res.Record.Directors)
	if err != nil {
		return fmt.Errorf("failed to resolve directors of movie %d: %w", m.MovieID, err)
	}

	out, err := p.engine.ApplyMovie(ctx, row, genreIDs, directorIDs, opts...)
	if err != nil {
		return fmt.Errorf("failed to store movie %d: %w", m.MovieID, err)
	}

	p.stats.addMovie(out)
	p.metrics.Movie(out.Movie.String())
	p.metrics.Links(store.Genres.Name, out.GenreLinks)
	p.metrics.Links(store.Directors.Name, out.DirectorLinks)
	return nil
}

func (p *Pipeline) ingestRatings(ctx context.Context) error {
	batch := make([]store.Rating, 0, p.cfg.RatingsBatch)
	var done int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := p.engine.ApplyRatings(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to store ratings: %w", err)
		}

		p.stats.addRatings(res)
		p.metrics.Ratings(upsert.Inserted.String(), res.Inserted)
		p.metrics.Ratings(upsert.Updated.String(), res.Updated)
		p.metrics.Ratings(upsert.Skipped.String(), res.Skipped)

		done += int64(len(batch))
		p.report(Progress{Stage: StageRatings, Done: done})
		batch = batch[:0]
		return nil
	}

	err := catalog.ReadRatings(p.cfg.RatingsCSV, func(r catalog.Rating) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, store.Rating{
			UserID:    r.UserID,
			MovieID:   r.MovieID,
			Rating:    r.Rating,
			Timestamp: r.Timestamp,
		})
		if len(batch) >= p.cfg.RatingsBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (p *Pipeline) report(pr Progress) {
	if p.progress != nil {
		p.progress(pr)
	}
}
