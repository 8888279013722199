package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"

	"github.com/lepinkainen/reelbase/internal/cache"
	"github.com/lepinkainen/reelbase/internal/config"
	"github.com/lepinkainen/reelbase/internal/omdb"
	"github.com/lepinkainen/reelbase/internal/store"
)

// CLI represents the complete command structure for the reelbase application
type CLI struct {
	// Global flags
	Config    string `short:"c" help:"Path to a config file (default: ./config.yaml if present)" type:"path"`
	EnvFile   string `help:"Path to a .env file" default:".env"`
	LogLevel  string `help:"Log level: debug, info, warn or error (overrides log.level)"`
	Driver    string `help:"Store driver: sqlite or postgres (overrides store.driver)"`
	DSN       string `help:"Store DSN or SQLite file (overrides store.dsn)"`
	CacheFile string `help:"Lookup cache file, .json or .yaml (overrides cache.file)"`

	Ingest   IngestCmd   `cmd:"" help:"Load the catalog and ratings into the store"`
	Backfill BackfillCmd `cmd:"" help:"Re-enrich movies already in the store"`
	Status   StatusCmd   `cmd:"" help:"Show row counts, schema version and cache statistics"`
	Migrate  MigrateCmd  `cmd:"" help:"Apply pending schema migrations"`
	Cache    CacheCmd    `cmd:"" help:"Inspect and maintain the lookup cache"`
}

// runEnv is handed to every command's Run method.
type runEnv struct {
	ctx context.Context
	cfg config.Config
	out io.Writer
}

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("reelbase"),
		kong.Description("Ingest a movie catalog and its ratings, enriched from OMDb, into a relational store."),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(os.Stdout, slog.LevelInfo)

	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		slog.Error("Failed to build command line parser", "error", err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, kctx, &cli, viper.GetViper(), os.Stdout); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// run resolves the configuration and executes the selected command.
func run(ctx context.Context, kctx *kong.Context, cli *CLI, v *viper.Viper, out io.Writer) error {
	cfg, err := initConfig(cli, v)
	if err != nil {
		return err
	}
	initLogging(out, cfg.Log.SlogLevel())

	return kctx.Run(&runEnv{ctx: ctx, cfg: cfg, out: out})
}

// initConfig layers the .env file, the config file, the environment and the
// global flags, in increasing precedence.
func initConfig(cli *CLI, v *viper.Viper) (config.Config, error) {
	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		return config.Config{}, err
	}
	if err := config.ReadFile(v, cli.Config); err != nil {
		return config.Config{}, err
	}

	overrides := map[string]string{
		"log.level":    cli.LogLevel,
		"store.driver": cli.Driver,
		"store.dsn":    cli.DSN,
		"cache.file":   cli.CacheFile,
	}
	for key, value := range overrides {
		if value != "" {
			v.Set(key, value)
		}
	}

	return config.Load(v)
}

func initLogging(w io.Writer, level slog.Level) {
	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(w, &humanlog.Options{
		Level: level,
	})

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}

// openStore connects to the configured store. With migrate set, pending
// migrations are applied first.
func openStore(ctx context.Context, cfg config.StoreConfig, migrate bool) (*store.DB, error) {
	db, err := store.Open(ctx, store.Options{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// newOMDbClient builds the enrichment client. Without a key, or with offline
// set, every lookup is Unavailable and only cached answers are used.
func newOMDbClient(cfg config.OMDbConfig, offline bool) *omdb.Client {
	key := cfg.APIKey
	if offline {
		key = ""
	}
	if key == "" {
		slog.Warn("No OMDb API key, movies are stored without new enrichment")
	}

	return omdb.NewClient(key,
		omdb.WithBaseURL(cfg.BaseURL),
		omdb.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		omdb.WithMinInterval(cfg.MinInterval),
		omdb.WithBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	)
}

func openLookupCache(path string) (*omdb.LookupCache, error) {
	lc, err := cache.Open[omdb.Response](path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lookup cache: %w", err)
	}
	return lc, nil
}
