package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCounters(t *testing.T) {
	r := NewRun()

	r.Movie("inserted")
	r.Movie("inserted")
	r.Movie("updated")
	r.Ratings("skipped", 3)
	r.Ratings("inserted", 0)
	r.Links("genre", 2)
	r.Cache(true)
	r.Cache(false)
	r.Lookup("found")
	r.LockRetry("upsert movie 42", 1)
	r.LockRetry("upsert movie 43", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.MoviesTotal.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MoviesTotal.WithLabelValues("updated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.RatingsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.LinksTotal.WithLabelValues("genre")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OMDbLookups.WithLabelValues("found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.LockRetries.WithLabelValues("upsert movie")))
}

func TestRunsAreIndependent(t *testing.T) {
	a, b := NewRun(), NewRun()
	a.Movie("inserted")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.MoviesTotal.WithLabelValues("inserted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MoviesTotal.WithLabelValues("inserted")))
}

func TestNilRunIsNoop(t *testing.T) {
	var r *Run
	r.Movie("inserted")
	r.Cache(true)
	r.LockRetry("op", 1)
	r.Finish(time.Now(), true)
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.Push(context.Background(), "http://unused", "job", ""))
}

func TestFinish(t *testing.T) {
	r := NewRun()
	r.Finish(time.Now().Add(-2*time.Second), true)

	assert.GreaterOrEqual(t, testutil.ToFloat64(r.RunDuration), 2.0)
	assert.Greater(t, testutil.ToFloat64(r.LastSuccessful), 0.0)
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRun()
	r.Movie("inserted")
	require.NoError(t, r.Push(context.Background(), srv.URL, "reelbase_ingest", "abc"))

	assert.Contains(t, gotPath, "/metrics/job/reelbase_ingest")
	assert.Contains(t, gotPath, "run_id/abc")
	assert.NotEmpty(t, gotBody)
}

func TestPushEmptyURL(t *testing.T) {
	assert.NoError(t, NewRun().Push(context.Background(), "", "job", ""))
}

func TestOperationLabel(t *testing.T) {
	assert.Equal(t, "upsert movie", operationLabel("upsert movie 42"))
	assert.Equal(t, "upsert ratings", operationLabel("upsert 500 ratings"))
	assert.Equal(t, "create", operationLabel("create"))
}
