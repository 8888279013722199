package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lepinkainen/reelbase/internal/store"
)

// PostgresImage is the image used for PostgreSQL integration tests.
const PostgresImage = "postgres:16-alpine"

// NewTestStore opens a migrated SQLite store in the test's sandbox.
func NewTestStore(t *testing.T, env *TestEnv) *store.DB {
	t.Helper()

	db, err := store.Open(context.Background(), store.Options{
		Driver:      "sqlite",
		DSN:         env.Path("reelbase.db"),
		BusyTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test store: %v", err)
	}
	return db
}

type postgresContainer struct {
	container testcontainers.Container
	connStr   string
}

var (
	sharedPostgres     *postgresContainer
	sharedPostgresOnce sync.Once
	sharedPostgresErr  error
)

// NewPostgresStore returns a migrated store backed by a PostgreSQL container
// shared by all tests in the run. Every call gets a freshly truncated schema.
func NewPostgresStore(t *testing.T) *store.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedPostgresOnce.Do(func() {
		sharedPostgres, sharedPostgresErr = startPostgres()
	})
	if sharedPostgresErr != nil {
		t.Skipf("PostgreSQL container unavailable: %v", sharedPostgresErr)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, store.Options{Driver: "postgres", DSN: sharedPostgres.connStr})
	if err != nil {
		t.Fatalf("Failed to open postgres store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate postgres store: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		"TRUNCATE ratings, movie_directors, movie_genres, directors, genres, movies RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("Failed to reset postgres store: %v", err)
	}
	return db
}

func startPostgres() (*postgresContainer, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "reelbase",
			"POSTGRES_USER":     "reelbase",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://reelbase:test_password@%s:%s/reelbase?sslmode=disable", host, port.Port())
	return &postgresContainer{container: container, connStr: connStr}, nil
}
