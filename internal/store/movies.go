package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const movieColumns = "movie_id, title, year, imdb_id, plot, box_office, runtime"

// GetMovie loads a movie by id. It returns ErrNotFound if there is none.
func GetMovie(ctx context.Context, q Queryer, id int64) (Movie, error) {
	row := q.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE movie_id = ?", id)
	m, err := scanMovie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Movie{}, ErrNotFound
	}
	if err != nil {
		return Movie{}, fmt.Errorf("failed to load movie %d: %w", id, err)
	}
	return m, nil
}

// MovieExists reports whether a movie with the id exists.
func MovieExists(ctx context.Context, q Queryer, id int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM movies WHERE movie_id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check movie %d: %w", id, err)
	}
	return true, nil
}

// MovieIDByImdbID returns the id of the movie holding imdbID.
func MovieIDByImdbID(ctx context.Context, q Queryer, imdbID string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT movie_id FROM movies WHERE imdb_id = ?", imdbID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up imdb id %s: %w", imdbID, err)
	}
	return id, nil
}

// InsertMovie inserts a new movie row.
func InsertMovie(ctx context.Context, q Queryer, m Movie) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO movies ("+movieColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.Title, m.Year, m.ImdbID, m.Plot, m.BoxOffice, m.Runtime)
	if err != nil {
		return fmt.Errorf("failed to insert movie %d: %w", m.ID, err)
	}
	return nil
}

// UpdateMovie overwrites every column of an existing movie.
func UpdateMovie(ctx context.Context, q Queryer, m Movie) error {
	_, err := q.ExecContext(ctx,
		`UPDATE movies SET title = ?, year = ?, imdb_id = ?, plot = ?, box_office = ?, runtime = ?
		WHERE movie_id = ?`,
		m.Title, m.Year, m.ImdbID, m.Plot, m.BoxOffice, m.Runtime, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update movie %d: %w", m.ID, err)
	}
	return nil
}

// BackfillFilter selects movies for a backfill pass.
type BackfillFilter struct {
	MissingOnly bool // only movies without an imdb_id
	AfterID     int64
	Limit       int
}

// ListMovies returns movies ordered by id.
func ListMovies(ctx context.Context, q Queryer, f BackfillFilter) ([]Movie, error) {
	query := "SELECT " + movieColumns + " FROM movies WHERE movie_id > ?"
	args := []any{f.AfterID}
	if f.MissingOnly {
		query += " AND imdb_id IS NULL"
	}
	query += " ORDER BY movie_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var movies []Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate movies: %w", err)
	}
	return movies, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovie(r rowScanner) (Movie, error) {
	var (
		m                       Movie
		year, runtime           sql.NullInt64
		imdbID, plot, boxOffice sql.NullString
	)
	if err := r.Scan(&m.ID, &m.Title, &year, &imdbID, &plot, &boxOffice, &runtime); err != nil {
		return Movie{}, err
	}
	m.Year = intPtr(year)
	m.Runtime = intPtr(runtime)
	m.ImdbID = stringPtr(imdbID)
	m.Plot = stringPtr(plot)
	m.BoxOffice = stringPtr(boxOffice)
	return m, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
