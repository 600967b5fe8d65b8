package testenv

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainerConfig holds configuration for the test container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string
}

// DefaultPostgresConfig returns the default configuration for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "banking",
		Username: "banking",
		Password: "banking_secure_pass_2024",
		Image:    "postgres:16-alpine",
	}
}

// SetupPostgresContainer creates and starts a PostgreSQL testcontainer.
// The container is automatically cleaned up when the test finishes.
func SetupPostgresContainer(t *testing.T) (*postgres.PostgresContainer, string) {
	ctx := context.Background()
	cfg := DefaultPostgresConfig()

	container, err := postgres.Run(ctx,
		cfg.Image,
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "Failed to start PostgreSQL testcontainer")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL testcontainer: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string from testcontainer")

	return container, connStr
}

// SetupPool creates a pgx pool against the test container
func SetupPool(t *testing.T, connStr string) *pgxpool.Pool {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "Failed to create connection pool")

	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")
	return pool
}
