// Package metrics holds the per-run Prometheus counters of an ingest or
// backfill run.
//
// A run is a batch job, so metrics live in a private registry and are pushed
// to a Pushgateway at the end of the run instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "reelbase"

// Run is the set of counters for one run. A nil *Run is a valid no-op.
type Run struct {
	registry *prometheus.Registry

	MoviesTotal    *prometheus.CounterVec
	RatingsTotal   *prometheus.CounterVec
	LinksTotal     *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
	OMDbLookups    *prometheus.CounterVec
	LockRetries    *prometheus.CounterVec
	RunDuration    prometheus.Gauge
	LastSuccessful prometheus.Gauge
}

// NewRun registers a fresh set of counters in a private registry.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Run{
		registry: reg,
		MoviesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movies_total",
			Help:      "Movies written, by upsert action",
		}, []string{"action"}),
		RatingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_total",
			Help:      "Ratings processed, by upsert action",
		}, []string{"action"}),
		LinksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Junction rows created, by entity kind",
		}, []string{"kind"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Lookup cache consultations, by result",
		}, []string{"result"}),
		OMDbLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "omdb_lookups_total",
			Help:      "Enrichment lookups, by outcome",
		}, []string{"outcome"}),
		LockRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_lock_retries_total",
			Help:      "Store operations retried because of lock contention",
		}, []string{"operation"}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		LastSuccessful: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}
}

// Registry exposes the run's registry.
func (r *Run) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Movie records a movie upsert.
func (r *Run) Movie(action string) {
	if r == nil {
		return
	}
	r.MoviesTotal.WithLabelValues(action).Inc()
}

// Ratings records n rating upserts with the same action.
func (r *Run) Ratings(action string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.RatingsTotal.WithLabelValues(action).Add(float64(n))
}

// Links records created junction rows.
func (r *Run) Links(kind string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.LinksTotal.WithLabelValues(kind).Add(float64(n))
}

// Cache records a cache hit or miss.
func (r *Run) Cache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

// Lookup records an enrichment outcome.
func (r *Run) Lookup(outcome string) {
	if r == nil {
		return
	}
	r.OMDbLookups.WithLabelValues(outcome).Inc()
}

// LockRetry records a retried store operation. Its signature matches
// retry.WithRetryHook.
func (r *Run) LockRetry(operation string, _ int) {
	if r == nil {
		return
	}
	r.LockRetries.WithLabelValues(operationLabel(operation)).Inc()
}

// Finish records the run duration and, when successful, the completion time.
func (r *Run) Finish(started time.Time, success bool) {
	if r == nil {
		return
	}
	r.RunDuration.Set(time.Since(started).Seconds())
	if success {
		r.LastSuccessful.SetToCurrentTime()
	}
}

// Push sends the run's metrics to a Pushgateway. An empty url is a no-op.
func (r *Run) Push(ctx context.Context, url, job, runID string) error {
	if r == nil || url == "" {
		return nil
	}

	pusher := push.New(url, job).Gatherer(r.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}

	slog.Debug("Pushed run metrics", "url", url, "job", job)
	return nil
}

// operationLabel keeps label cardinality bounded: retried operations carry
// ids and sizes ("upsert movie 42"), so words containing digits are dropped.
func operationLabel(op string) string {
	words := strings.Fields(op)
	kept := words[:0]
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsDigit) < 0 {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
