package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/reelbase/internal/testutil"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OMDB_API_KEY", "")
	t.Setenv("REELBASE_OMDB_API_KEY", "")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "reelbase.db", cfg.Store.DSN)
	assert.Equal(t, 6, cfg.Store.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Store.RetryDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.OMDb.MinInterval)
	assert.Equal(t, uint32(5), cfg.OMDb.BreakerFailures)
	assert.Equal(t, "omdb_cache.json", cfg.Cache.File)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, 500, cfg.Pipeline.RatingsBatch)
	assert.Empty(t, cfg.OMDb.APIKey)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("OMDB_API_KEY", "from-plain-env")
	t.Setenv("REELBASE_OMDB_API_KEY", "")
	t.Setenv("REELBASE_PIPELINE_WORKERS", "4")
	t.Setenv("REELBASE_STORE_RETRY_DELAY", "250ms")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "from-plain-env", cfg.OMDb.APIKey)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.RetryDelay)

	t.Setenv("REELBASE_OMDB_API_KEY", "prefixed")
	cfg, err = Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.OMDb.APIKey, "the prefixed variable wins")
}

func TestLoad_ConfigFile(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("config.yaml", `
store:
  driver: postgres
  dsn: postgres://localhost/reelbase
pipeline:
  workers: 3
log:
  level: debug
`)

	v := viper.New()
	require.NoError(t, ReadFile(v, env.Path("config.yaml")))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/reelbase", cfg.Store.DSN)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestReadFile_Missing(t *testing.T) {
	env := testutil.NewTestEnv(t)

	err := ReadFile(viper.New(), env.Path("nope.yaml"))
	assert.Error(t, err, "an explicit config file must exist")

	env.Chdir(".")
	assert.NoError(t, ReadFile(viper.New(), ""), "the default config file is optional")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"unknown driver", "store.driver", "mysql", "Store.Driver"},
		{"too many workers", "pipeline.workers", 64, "Pipeline.Workers"},
		{"zero retries", "store.retry_attempts", 0, "Store.RetryAttempts"},
		{"bad push url", "metrics.push_url", "not a url", "Metrics.PushURL"},
		{"bad log level", "log.level", "verbose", "Log.Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	env := testutil.NewTestEnv(t)
	require.NoError(t, LoadDotEnv(env.Path("missing.env")))

	env.WriteFileString("test.env", "REELBASE_TEST_DOTENV=loaded\n")
	env.UnsetEnv("REELBASE_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(env.Path("test.env")))
	assert.Equal(t, "loaded", os.Getenv("REELBASE_TEST_DOTENV"))
}
