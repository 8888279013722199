// Package config resolves reelbase settings from defaults, an optional
// config file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// REELBASE_STORE_DSN for store.dsn.
const EnvPrefix = "REELBASE"

// Config is the resolved configuration of a run.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Store    StoreConfig    `mapstructure:"store"`
	OMDb     OMDbConfig     `mapstructure:"omdb"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type CatalogConfig struct {
	MoviesCSV  string `mapstructure:"movies_csv" validate:"required"`
	RatingsCSV string `mapstructure:"ratings_csv"`
}

type CacheConfig struct {
	File string `mapstructure:"file"`
}

type StoreConfig struct {
	Driver        string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN           string        `mapstructure:"dsn" validate:"required"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout" validate:"gte=0"`
	RetryAttempts int           `mapstructure:"retry_attempts" validate:"min=1,max=100"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

type OMDbConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	MinInterval     time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" validate:"gt=0"`
}

type PipelineConfig struct {
	Workers      int `mapstructure:"workers" validate:"min=1,max=32"`
	RatingsBatch int `mapstructure:"ratings_batch" validate:"min=1,max=100000"`
}

type MetricsConfig struct {
	PushURL string `mapstructure:"push_url" validate:"omitempty,url"`
	Job     string `mapstructure:"job" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// SlogLevel maps the configured level name to a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("catalog.movies_csv", "movies.csv")
	v.SetDefault("catalog.ratings_csv", "ratings.csv")
	v.SetDefault("cache.file", "omdb_cache.json")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "reelbase.db")
	v.SetDefault("store.busy_timeout", 5*time.Second)
	v.SetDefault("store.retry_attempts", 6)
	v.SetDefault("store.retry_delay", 2*time.Second)

	v.SetDefault("omdb.api_key", "")
	v.SetDefault("omdb.base_url", "http://www.omdbapi.com")
	v.SetDefault("omdb.min_interval", 200*time.Millisecond)
	v.SetDefault("omdb.timeout", 10*time.Second)
	v.SetDefault("omdb.breaker_failures", 5)
	v.SetDefault("omdb.breaker_cooldown", 30*time.Second)

	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.ratings_batch", 500)

	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "reelbase")

	v.SetDefault("log.level", "info")
}

// BindEnv makes every key overridable from the environment. The OMDb key is
// also read from the conventional OMDB_API_KEY variable.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v.BindEnv("omdb.api_key", EnvPrefix+"_OMDB_API_KEY", "OMDB_API_KEY")
}

// ReadFile loads a config file into v. With an empty path, config.yaml is
// looked up in the working directory and its absence is not an error; an
// explicitly named file must exist.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			slog.Debug("No config file found, using defaults and environment")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	slog.Debug("Loaded config file", "path", v.ConfigFileUsed())
	return nil
}

// LoadDotEnv exports the variables of a .env file into the process
// environment. Variables already set win, and a missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Debug("Loaded environment file", "path", path)
	return nil
}

// Load resolves and validates the configuration held by v. Defaults and
// environment bindings are registered on v first.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return Config{}, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks cfg against its field constraints. All violations are
// reported in one error.
func Validate(cfg Config) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		messages = append(messages, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}
