package store

// Movie is a row of the movies table. Nil pointers are NULL columns.
type Movie struct {
	ID        int64
	Title     string
	Year      *int
	ImdbID    *string
	Plot      *string
	BoxOffice *string
	Runtime   *int
}

// HasEnrichment reports whether any enrichment column is set.
func (m Movie) HasEnrichment() bool {
	return m.ImdbID != nil || m.Plot != nil || m.BoxOffice != nil || m.Runtime != nil
}

// Rating is a row of the ratings table.
type Rating struct {
	UserID    int64
	MovieID   int64
	Rating    float64
	Timestamp *int64
}

// EntityKind describes a deduplicated name table and its junction table.
type EntityKind struct {
	Name           string
	Table          string
	IDColumn       string
	NameColumn     string
	JunctionTable  string
	JunctionColumn string
}

var (
	Genres = EntityKind{
		Name:           "genre",
		Table:          "genres",
		IDColumn:       "genre_id",
		NameColumn:     "genre_name",
		JunctionTable:  "movie_genres",
		JunctionColumn: "genre_id",
	}
	Directors = EntityKind{
		Name:           "director",
		Table:          "directors",
		IDColumn:       "director_id",
		NameColumn:     "director_name",
		JunctionTable:  "movie_directors",
		JunctionColumn: "director_id",
	}
)

// Tables lists the catalog tables in dependency order.
var Tables = []string{"movies", "genres", "directors", "movie_genres", "movie_directors", "ratings"}
