package pipeline

import (
	"log/slog"
	"sync/atomic"

	"github.com/lepinkainen/reelbase/internal/omdb"
	"github.com/lepinkainen/reelbase/internal/upsert"
)

// Stats counts what a run did. Counters are updated atomically by the lookup
// workers and the writer.
type Stats struct {
	moviesRead     atomic.Int64
	moviesInserted atomic.Int64
	moviesUpdated  atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	found       atomic.Int64
	notFound    atomic.Int64
	unavailable atomic.Int64

	genreLinks    atomic.Int64
	directorLinks atomic.Int64

	ratingsInserted atomic.Int64
	ratingsUpdated  atomic.Int64
	ratingsSkipped  atomic.Int64
}

// MoviesRead returns the number of catalog rows processed.
func (s *Stats) MoviesRead() int64 { return s.moviesRead.Load() }

// MoviesInserted returns the number of new movie rows.
func (s *Stats) MoviesInserted() int64 { return s.moviesInserted.Load() }

// MoviesUpdated returns the number of rewritten movie rows.
func (s *Stats) MoviesUpdated() int64 { return s.moviesUpdated.Load() }

// CacheHits returns the number of lookups answered by the cache.
func (s *Stats) CacheHits() int64 { return s.cacheHits.Load() }

// CacheMisses returns the number of lookups that went to the service.
func (s *Stats) CacheMisses() int64 { return s.cacheMisses.Load() }

// Found returns the number of lookups with a record.
func (s *Stats) Found() int64 { return s.found.Load() }

// NotFound returns the number of confirmed misses.
func (s *Stats) NotFound() int64 { return s.notFound.Load() }

// Unavailable returns the number of lookups that got no answer.
func (s *Stats) Unavailable() int64 { return s.unavailable.Load() }

// GenreLinks returns the number of movie/genre links created.
func (s *Stats) GenreLinks() int64 { return s.genreLinks.Load() }

// DirectorLinks returns the number of movie/director links created.
func (s *Stats) DirectorLinks() int64 { return s.directorLinks.Load() }

// RatingsInserted returns the number of new ratings.
func (s *Stats) RatingsInserted() int64 { return s.ratingsInserted.Load() }

// RatingsUpdated returns the number of overwritten ratings.
func (s *Stats) RatingsUpdated() int64 { return s.ratingsUpdated.Load() }

// RatingsSkipped returns the number of ratings dropped for unknown movies.
func (s *Stats) RatingsSkipped() int64 { return s.ratingsSkipped.Load() }

func (s *Stats) addLookup(outcome omdb.Outcome, hit bool) {
	if hit {
		s.cacheHits.Add(1)
	} else {
		s.cacheMisses.Add(1)
	}

	switch outcome {
	case omdb.Found:
		s.found.Add(1)
	case omdb.NotFound:
		s.notFound.Add(1)
	default:
		s.unavailable.Add(1)
	}
}

func (s *Stats) addMovie(res upsert.MovieResult) {
	s.moviesRead.Add(1)
	switch res.Movie {
	case upsert.Inserted:
		s.moviesInserted.Add(1)
	case upsert.Updated:
		s.moviesUpdated.Add(1)
	}
	s.genreLinks.Add(int64(res.GenreLinks))
	s.directorLinks.Add(int64(res.DirectorLinks))
}

func (s *Stats) addRatings(res upsert.RatingResult) {
	s.ratingsInserted.Add(int64(res.Inserted))
	s.ratingsUpdated.Add(int64(res.Updated))
	s.ratingsSkipped.Add(int64(res.Skipped))
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Group("movies",
			slog.Int64("read", s.MoviesRead()),
			slog.Int64("inserted", s.MoviesInserted()),
			slog.Int64("updated", s.MoviesUpdated()),
		),
		slog.Group("cache",
			slog.Int64("hits", s.CacheHits()),
			slog.Int64("misses", s.CacheMisses()),
		),
		slog.Group("lookups",
			slog.Int64("found", s.Found()),
			slog.Int64("not_found", s.NotFound()),
			slog.Int64("unavailable", s.Unavailable()),
		),
		slog.Group("links",
			slog.Int64("genres", s.GenreLinks()),
			slog.Int64("directors", s.DirectorLinks()),
		),
		slog.Group("ratings",
			slog.Int64("inserted", s.RatingsInserted()),
			slog.Int64("updated", s.RatingsUpdated()),
			slog.Int64("skipped", s.RatingsSkipped()),
		),
	)
}
