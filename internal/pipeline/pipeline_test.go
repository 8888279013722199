package pipeline_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/reelbase/internal/cache"
	"github.com/lepinkainen/reelbase/internal/omdb"
	"github.com/lepinkainen/reelbase/internal/pipeline"
	"github.com/lepinkainen/reelbase/internal/store"
	"github.com/lepinkainen/reelbase/internal/testutil"
)

const moviesCSV = `movieId,title,genres
1,Heat (1995),Action|Crime|Thriller
2,Jumanji (1995),Adventure|Children|Fantasy
3,Unknown Film (2001),(no genres listed)
`

const ratingsCSV = `userId,movieId,rating,timestamp
1,1,4.0,964982703
1,2,3.5,964981247
2,1,5.0,
3,99,1.0,964982224
`

var omdbRecords = map[string]string{
	"Heat":    `{"Title":"Heat","Year":"1995","Runtime":"170 min","Director":"Michael Mann","Plot":"Thieves.","BoxOffice":"$67,436,818","imdbID":"tt0113277","Response":"True"}`,
	"Jumanji": `{"Title":"Jumanji","Year":"1995","Runtime":"104 min","Director":"Joe Johnston","Plot":"A board game.","BoxOffice":"N/A","imdbID":"tt0113497","Response":"True"}`,
}

type fakeOMDb struct {
	mu       sync.Mutex
	requests map[string]int
	srv      *httptest.Server
}

func newFakeOMDb(t *testing.T) *fakeOMDb {
	t.Helper()
	f := &fakeOMDb{requests: map[string]int{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title := r.URL.Query().Get("t")
		f.mu.Lock()
		f.requests[title]++
		f.mu.Unlock()

		if body, ok := omdbRecords[title]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		_, _ = w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOMDb) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.requests {
		n += c
	}
	return n
}

func (f *fakeOMDb) count(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[title]
}

func (f *fakeOMDb) client() *omdb.Client {
	return omdb.NewClient("test-key",
		omdb.WithBaseURL(f.srv.URL),
		omdb.WithHTTPClient(f.srv.Client()),
		omdb.WithMinInterval(0))
}

type fixture struct {
	env       *testutil.TestEnv
	db        *store.DB
	cachePath string
	cfg       pipeline.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testutil.NewTestEnv(t)
	env.WriteFileString("movies.csv", moviesCSV)
	env.WriteFileString("ratings.csv", ratingsCSV)

	return &fixture{
		env:       env,
		db:        testutil.NewTestStore(t, env),
		cachePath: env.Path("omdb_cache.json"),
		cfg: pipeline.Config{
			MoviesCSV:    env.Path("movies.csv"),
			RatingsCSV:   env.Path("ratings.csv"),
			Workers:      1,
			RatingsBatch: 2,
		},
	}
}

func (f *fixture) run(t *testing.T, client *omdb.Client, lc *omdb.LookupCache, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	if lc == nil {
		var err error
		lc, err = cache.Open[omdb.Response](f.cachePath)
		require.NoError(t, err)
	}

	p, err := pipeline.New(context.Background(), f.cfg, f.db, client, lc, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	return p
}

func (f *fixture) counts(t *testing.T) map[string]int64 {
	t.Helper()
	counts, err := store.Counts(context.Background(), f.db)
	require.NoError(t, err)
	byTable := make(map[string]int64, len(counts))
	for _, c := range counts {
		byTable[c.Table] = c.Rows
	}
	return byTable
}

func (f *fixture) movie(t *testing.T, id int64) store.Movie {
	t.Helper()
	m, err := store.GetMovie(context.Background(), f.db, id)
	require.NoError(t, err)
	return m
}

func TestRun_IngestsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)

	p := f.run(t, fake.client(), nil)

	want := map[string]int64{
		"movies":          3,
		"genres":          6,
		"directors":       2,
		"movie_genres":    6,
		"movie_directors": 2,
		"ratings":         3,
	}
	assert.Equal(t, want, f.counts(t))

	heat := f.movie(t, 1)
	assert.Equal(t, "Heat", heat.Title)
	require.NotNil(t, heat.Year)
	assert.Equal(t, 1995, *heat.Year)
	require.NotNil(t, heat.ImdbID)
	assert.Equal(t, "tt0113277", *heat.ImdbID)
	require.NotNil(t, heat.Runtime)
	assert.Equal(t, 170, *heat.Runtime)

	jumanji := f.movie(t, 2)
	assert.Nil(t, jumanji.BoxOffice, "N/A is stored as absent")

	unknown := f.movie(t, 3)
	assert.False(t, unknown.HasEnrichment())

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.MoviesInserted())
	assert.Equal(t, int64(2), stats.Found())
	assert.Equal(t, int64(1), stats.NotFound())
	assert.Equal(t, int64(3), stats.RatingsInserted())
	assert.Equal(t, int64(1), stats.RatingsSkipped())
	f.env.RequireFileExists("omdb_cache.json")

	requests := fake.total()
	// "Unknown Film" is asked for with and without its year.
	assert.Equal(t, 4, requests)

	second := f.run(t, fake.client(), nil)
	assert.Equal(t, want, f.counts(t))
	assert.Equal(t, heat, f.movie(t, 1))
	assert.Equal(t, unknown, f.movie(t, 3))
	assert.Equal(t, requests, fake.total(), "a second run is served from the cache")

	stats = second.Stats()
	assert.Equal(t, int64(3), stats.MoviesUpdated())
	assert.Equal(t, int64(3), stats.CacheHits())
	assert.Equal(t, int64(0), stats.GenreLinks())
	assert.Equal(t, int64(3), stats.RatingsUpdated())
}

func TestRun_LatestRatingWins(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)
	f.run(t, fake.client(), nil)

	f.env.WriteFileString("ratings.csv", "userId,movieId,rating,timestamp\n1,1,2.5,970000000\n")
	f.run(t, fake.client(), nil)

	r, err := store.GetRating(context.Background(), f.db, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, r.Rating)
	require.NotNil(t, r.Timestamp)
	assert.Equal(t, int64(970000000), *r.Timestamp)
	assert.Equal(t, int64(3), f.counts(t)["ratings"])
}

func TestRun_NegativeCacheEntrySuppressesLookup(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)

	lc := cache.New[omdb.Response]()
	lc.Put("Heat", intPtr(1995), cache.Entry[omdb.Response]{})

	f.run(t, fake.client(), lc)

	assert.Zero(t, fake.count("Heat"))
	assert.False(t, f.movie(t, 1).HasEnrichment())
	assert.Equal(t, int64(1), f.counts(t)["directors"])
}

func TestRun_UnavailableKeepsStoredEnrichment(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)
	f.run(t, fake.client(), nil)
	before := f.movie(t, 1)
	require.True(t, before.HasEnrichment())

	// No credential and an empty cache: every lookup is Unavailable.
	offline := omdb.NewClient("")
	p := f.run(t, offline, cache.New[omdb.Response]())

	assert.Equal(t, int64(3), p.Stats().Unavailable())
	assert.Equal(t, before, f.movie(t, 1))
	assert.Equal(t, int64(2), f.counts(t)["movie_directors"], "links are never removed")
}

func TestRun_ParallelWorkers(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)

	var b strings.Builder
	b.WriteString("movieId,title,genres\n")
	for i := 1; i <= 40; i++ {
		fmt.Fprintf(&b, "%d,Film %d (2000),Drama|Genre %d\n", i, i, i%5)
	}
	b.WriteString("41,Heat (1995),Crime\n")
	f.env.WriteFileString("movies.csv", b.String())
	f.cfg.Workers = 8
	f.cfg.RatingsCSV = ""

	p := f.run(t, fake.client(), nil)

	counts := f.counts(t)
	assert.Equal(t, int64(41), counts["movies"])
	assert.Equal(t, int64(7), counts["genres"])
	assert.Equal(t, int64(81), counts["movie_genres"])
	assert.Equal(t, int64(1), counts["directors"])
	assert.Equal(t, int64(41), p.Stats().MoviesRead())
	assert.Equal(t, 1, fake.count("Heat"))
	assert.Equal(t, 2, fake.count("Film 7"), "one request with the year and one without")
}

func TestRun_ReportsProgress(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)

	var seen []pipeline.Progress
	f.run(t, fake.client(), nil, pipeline.WithProgress(func(p pipeline.Progress) {
		seen = append(seen, p)
	}))

	require.NotEmpty(t, seen)
	var lastMovies, lastRatings pipeline.Progress
	for _, p := range seen {
		switch p.Stage {
		case pipeline.StageMovies:
			lastMovies = p
		case pipeline.StageRatings:
			lastRatings = p
		}
	}
	assert.Equal(t, pipeline.Progress{Stage: pipeline.StageMovies, Done: 3, Total: 3}, lastMovies)
	assert.Equal(t, int64(4), lastRatings.Done)
}

func TestRun_SavesCacheOnFailure(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)
	f.cfg.RatingsCSV = f.env.Path("missing.csv")

	lc, err := cache.Open[omdb.Response](f.cachePath)
	require.NoError(t, err)
	p, err := pipeline.New(context.Background(), f.cfg, f.db, fake.client(), lc)
	require.NoError(t, err)

	require.Error(t, p.Run(context.Background()))
	f.env.RequireFileExists("omdb_cache.json")
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)

	lc := cache.New[omdb.Response]()
	p, err := pipeline.New(context.Background(), f.cfg, f.db, fake.client(), lc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.counts(t)["movies"])
}

func TestBackfill(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMovie(ctx, f.db, store.Movie{ID: 1, Title: "Heat", Year: intPtr(1995)}))
	require.NoError(t, store.InsertMovie(ctx, f.db, store.Movie{ID: 2, Title: "Jumanji", Year: intPtr(1995)}))

	lc := cache.New[omdb.Response]()
	p, err := pipeline.New(ctx, f.cfg, f.db, fake.client(), lc)
	require.NoError(t, err)

	require.NoError(t, p.Backfill(ctx, store.BackfillFilter{MissingOnly: true, Limit: 1}))
	assert.True(t, f.movie(t, 1).HasEnrichment())
	assert.False(t, f.movie(t, 2).HasEnrichment())

	require.NoError(t, p.Backfill(ctx, store.BackfillFilter{MissingOnly: true}))
	assert.True(t, f.movie(t, 2).HasEnrichment())
	assert.Equal(t, 1, fake.count("Heat"))
	assert.Equal(t, int64(2), f.counts(t)["movie_directors"])
}

func TestStats_LogValue(t *testing.T) {
	f := newFixture(t)
	fake := newFakeOMDb(t)
	p := f.run(t, fake.client(), nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("done", "stats", p.Stats())

	out := buf.String()
	assert.Contains(t, out, `"movies":{"read":3,"inserted":3,"updated":0}`)
	assert.Contains(t, out, `"lookups":{"found":2,"not_found":1,"unavailable":0}`)
}

func intPtr(v int) *int { return &v }
