package catalog

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lepinkainen/reelbase/internal/csvutil"
)

// NoGenresPlaceholder is the token MovieLens uses for movies without genres.
const NoGenresPlaceholder = "(no genres listed)"

// Movie is one catalog row with its title already split.
type Movie struct {
	MovieID  int64
	RawTitle string
	Title    string
	Year     *int
	Genres   []string
}

// Rating is one ratings row.
type Rating struct {
	UserID    int64
	MovieID   int64
	Rating    float64
	Timestamp *int64
}

// ReadMovies streams the catalog CSV at path, calling fn for each movie.
// Rows with an unparsable movie id are skipped with a warning.
func ReadMovies(path string, fn func(Movie) error) error {
	opts := csvutil.ProcessorOptions{
		SkipInvalid:     true,
		RequiredColumns: []string{"movieId", "title"},
	}
	if err := csvutil.ForEach(path, parseMovie, opts, fn); err != nil {
		return fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return nil
}

// ReadRatings streams the ratings CSV at path, calling fn for each rating.
func ReadRatings(path string, fn func(Rating) error) error {
	opts := csvutil.ProcessorOptions{
		SkipInvalid:     true,
		RequiredColumns: []string{"userId", "movieId", "rating"},
	}
	if err := csvutil.ForEach(path, parseRating, opts, fn); err != nil {
		return fmt.Errorf("reading ratings %s: %w", path, err)
	}
	return nil
}

func parseMovie(r csvutil.Record) (Movie, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Get("movieId")), 10, 64)
	if err != nil {
		return Movie{}, fmt.Errorf("invalid movieId %q: %w", r.Get("movieId"), err)
	}

	raw := r.Get("title")
	title, year := ParseTitle(raw)

	return Movie{
		MovieID:  id,
		RawTitle: raw,
		Title:    title,
		Year:     year,
		Genres:   SplitGenres(r.Get("genres")),
	}, nil
}

func parseRating(r csvutil.Record) (Rating, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(r.Get("userId")), 10, 64)
	if err != nil {
		return Rating{}, fmt.Errorf("invalid userId %q: %w", r.Get("userId"), err)
	}
	movieID, err := strconv.ParseInt(strings.TrimSpace(r.Get("movieId")), 10, 64)
	if err != nil {
		return Rating{}, fmt.Errorf("invalid movieId %q: %w", r.Get("movieId"), err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(r.Get("rating")), 64)
	if err != nil {
		return Rating{}, fmt.Errorf("invalid rating %q: %w", r.Get("rating"), err)
	}

	rating := Rating{UserID: userID, MovieID: movieID, Rating: value}

	if ts := strings.TrimSpace(r.Get("timestamp")); ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			slog.Warn("Ignoring malformed rating timestamp", "line", r.Line, "timestamp", ts)
		} else {
			rating.Timestamp = &n
		}
	}

	return rating, nil
}

// SplitGenres splits a pipe-delimited genre list. Empty input and the
// placeholder token yield no genres.
func SplitGenres(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" || field == NoGenresPlaceholder {
		return nil
	}

	var genres []string
	for _, g := range strings.Split(field, "|") {
		g = strings.TrimSpace(g)
		if g == "" || g == NoGenresPlaceholder {
			continue
		}
		genres = append(genres, g)
	}
	return genres
}
