package testutil

import (
	"testing"

	"github.com/spf13/viper"
)

// ViperOption adjusts a test viper instance.
type ViperOption func(v *viper.Viper)

// WithValue sets a single key.
func WithValue(key string, value any) ViperOption {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// WithOMDb points the OMDb client at baseURL with the given key and no
// request spacing.
func WithOMDb(baseURL, apiKey string) ViperOption {
	return func(v *viper.Viper) {
		v.Set("omdb.base_url", baseURL)
		v.Set("omdb.api_key", apiKey)
		v.Set("omdb.min_interval", "0s")
	}
}

// NewViper returns a fresh viper instance whose file locations all point
// into env, so commands run in tests never touch the working directory.
// The OMDb key is cleared so tests run offline unless WithOMDb is given.
func NewViper(t *testing.T, env *TestEnv, opts ...ViperOption) *viper.Viper {
	t.Helper()

	v := viper.New()
	v.Set("catalog.movies_csv", env.Path("movies.csv"))
	v.Set("catalog.ratings_csv", env.Path("ratings.csv"))
	v.Set("cache.file", env.Path("omdb_cache.json"))
	v.Set("store.driver", "sqlite")
	v.Set("store.dsn", env.Path("reelbase.db"))
	v.Set("store.retry_delay", "10ms")
	v.Set("omdb.api_key", "")

	for _, opt := range opts {
		opt(v)
	}
	return v
}
