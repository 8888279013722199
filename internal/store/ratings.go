package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetRating loads the rating for a user and movie, or ErrNotFound.
func GetRating(ctx context.Context, q Queryer, userID, movieID int64) (Rating, error) {
	var (
		r  = Rating{UserID: userID, MovieID: movieID}
		ts sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT rating, "timestamp" FROM ratings WHERE user_id = ? AND movie_id = ?`,
		userID, movieID).Scan(&r.Rating, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Rating{}, ErrNotFound
	}
	if err != nil {
		return Rating{}, fmt.Errorf("failed to load rating (%d, %d): %w", userID, movieID, err)
	}
	if ts.Valid {
		v := ts.Int64
		r.Timestamp = &v
	}
	return r, nil
}

// InsertRating inserts a new rating row.
func InsertRating(ctx context.Context, q Queryer, r Rating) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO ratings (user_id, movie_id, rating, "timestamp") VALUES (?, ?, ?, ?)`,
		r.UserID, r.MovieID, r.Rating, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert rating (%d, %d): %w", r.UserID, r.MovieID, err)
	}
	return nil
}

// UpdateRating overwrites the value and timestamp of an existing rating.
func UpdateRating(ctx context.Context, q Queryer, r Rating) error {
	_, err := q.ExecContext(ctx,
		`UPDATE ratings SET rating = ?, "timestamp" = ? WHERE user_id = ? AND movie_id = ?`,
		r.Rating, r.Timestamp, r.UserID, r.MovieID)
	if err != nil {
		return fmt.Errorf("failed to update rating (%d, %d): %w", r.UserID, r.MovieID, err)
	}
	return nil
}
