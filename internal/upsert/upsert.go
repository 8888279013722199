// Package upsert writes catalog rows so that replaying the same input leaves
// the store unchanged.
package upsert

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/lepinkainen/reelbase/internal/retry"
	"github.com/lepinkainen/reelbase/internal/store"
)

// Action describes what an upsert did.
type Action int

const (
	Unchanged Action = iota
	Inserted
	Updated
	Skipped
)

func (a Action) String() string {
	switch a {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	default:
		return "unchanged"
	}
}

// UpsertMovie writes every column of m, replacing the stored row if there is
// one. When a different movie already owns m's IMDb id, the id is dropped
// from m and a warning is logged; the first holder keeps it.
func UpsertMovie(ctx context.Context, q store.Queryer, m store.Movie) (Action, error) {
	if m.ImdbID != nil {
		holder, err := store.MovieIDByImdbID(ctx, q, *m.ImdbID)
		switch {
		case err == nil && holder != m.ID:
			slog.Warn("IMDb id already belongs to another movie, storing without it",
				"movie_id", m.ID, "imdb_id", *m.ImdbID, "holder", holder)
			m.ImdbID = nil
		case err != nil && !stderrors.Is(err, store.ErrNotFound):
			return Unchanged, err
		}
	}

	exists, err := store.MovieExists(ctx, q, m.ID)
	if err != nil {
		return Unchanged, err
	}

	if exists {
		if err := store.UpdateMovie(ctx, q, m); err != nil {
			return Unchanged, err
		}
		return Updated, nil
	}

	if err := store.InsertMovie(ctx, q, m); err != nil {
		return Unchanged, err
	}
	return Inserted, nil
}

// UpsertRating stores r keyed on (user, movie), overwriting rating and
// timestamp of an existing row. A rating for a movie that does not exist is
// Skipped rather than violating the foreign key.
func UpsertRating(ctx context.Context, q store.Queryer, r store.Rating) (Action, error) {
	exists, err := store.MovieExists(ctx, q, r.MovieID)
	if err != nil {
		return Unchanged, err
	}
	if !exists {
		return Skipped, nil
	}

	_, err = store.GetRating(ctx, q, r.UserID, r.MovieID)
	switch {
	case err == nil:
		if err := store.UpdateRating(ctx, q, r); err != nil {
			return Unchanged, err
		}
		return Updated, nil
	case stderrors.Is(err, store.ErrNotFound):
		if err := store.InsertRating(ctx, q, r); err != nil {
			return Unchanged, err
		}
		return Inserted, nil
	default:
		return Unchanged, err
	}
}

// UpsertMembership links a movie to an entity if the link is absent. Existing
// links are never touched, and a link created concurrently by another writer
// counts as already present.
func UpsertMembership(ctx context.Context, q store.Queryer, kind store.EntityKind, movieID, entityID int64) (Action, error) {
	exists, err := store.MembershipExists(ctx, q, kind, movieID, entityID)
	if err != nil {
		return Unchanged, err
	}
	if exists {
		return Unchanged, nil
	}

	inserted, err := store.InsertMembership(ctx, q, kind, movieID, entityID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Unchanged, nil
		}
		return Unchanged, err
	}
	if !inserted {
		return Unchanged, nil
	}
	return Inserted, nil
}

// Engine applies whole movies and rating batches transactionally, retrying
// on lock contention.
type Engine struct {
	db      *store.DB
	retrier *retry.Retrier
}

// NewEngine creates an Engine writing to db.
func NewEngine(db *store.DB, retrier *retry.Retrier) *Engine {
	if retrier == nil {
		retrier = retry.New(1, 0)
	}
	return &Engine{db: db, retrier: retrier}
}

// MovieResult summarizes ApplyMovie.
type MovieResult struct {
	Movie         Action
	GenreLinks    int
	DirectorLinks int
}

// ApplyOption adjusts ApplyMovie.
type ApplyOption func(*applyOptions)

type applyOptions struct {
	keepEnrichment bool
}

// KeepEnrichment makes ApplyMovie carry over the stored enrichment columns
// instead of clearing them. Use it when no authoritative lookup answer is
// available for the movie.
func KeepEnrichment() ApplyOption {
	return func(o *applyOptions) {
		o.keepEnrichment = true
	}
}

// ApplyMovie writes the movie row and its genre and director links in one
// transaction.
func (e *Engine) ApplyMovie(ctx context.Context, m store.Movie, genreIDs, directorIDs []int64, opts ...ApplyOption) (MovieResult, error) {
	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	var result MovieResult

	err := e.inTx(ctx, fmt.Sprintf("upsert movie %d", m.ID), func(tx *store.Tx) error {
		result = MovieResult{}

		row := m
		if o.keepEnrichment {
			existing, err := store.GetMovie(ctx, tx, m.ID)
			switch {
			case err == nil:
				row.ImdbID = existing.ImdbID
				row.Plot = existing.Plot
				row.BoxOffice = existing.BoxOffice
				row.Runtime = existing.Runtime
			case !stderrors.Is(err, store.ErrNotFound):
				return err
			}
		}

		action, err := UpsertMovie(ctx, tx, row)
		if err != nil {
			return err
		}
		result.Movie = action

		for _, id := range genreIDs {
			action, err := UpsertMembership(ctx, tx, store.Genres, m.ID, id)
			if err != nil {
				return err
			}
			if action == Inserted {
				result.GenreLinks++
			}
		}
		for _, id := range directorIDs {
			action, err := UpsertMembership(ctx, tx, store.Directors, m.ID, id)
			if err != nil {
				return err
			}
			if action == Inserted {
				result.DirectorLinks++
			}
		}
		return nil
	})
	if err != nil {
		return MovieResult{}, err
	}
	return result, nil
}

// RatingResult counts what ApplyRatings did.
type RatingResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

// ApplyRatings upserts a batch of ratings in one transaction. Orphan ratings
// are skipped with a warning.
func (e *Engine) ApplyRatings(ctx context.Context, batch []store.Rating) (RatingResult, error) {
	if len(batch) == 0 {
		return RatingResult{}, nil
	}

	var result RatingResult
	err := e.inTx(ctx, fmt.Sprintf("upsert %d ratings", len(batch)), func(tx *store.Tx) error {
		result = RatingResult{}
		for _, r := range batch {
			action, err := UpsertRating(ctx, tx, r)
			if err != nil {
				return err
			}
			switch action {
			case Inserted:
				result.Inserted++
			case Updated:
				result.Updated++
			case Skipped:
				result.Skipped++
				slog.Warn("Skipping rating for unknown movie", "user_id", r.UserID, "movie_id", r.MovieID)
			}
		}
		return nil
	})
	if err != nil {
		return RatingResult{}, err
	}
	return result, nil
}

// inTx runs fn in a transaction under the retrier. A transaction that loses
// an insert race to another writer is replayed once; on the second pass the
// row exists and the update path is taken.
func (e *Engine) inTx(ctx context.Context, name string, fn func(tx *store.Tx) error) error {
	return e.retrier.Do(ctx, name, func(ctx context.Context) error {
		err := e.db.InTx(ctx, fn)
		if err != nil && store.IsUniqueViolation(err) {
			slog.Debug("Insert race lost, replaying transaction", "operation", name)
			err = e.db.InTx(ctx, fn)
		}
		return err
	})
}
