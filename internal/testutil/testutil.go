// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    dsn := testutil.StartPostgres(t)
//	    store, err := kv.NewPostgresStore(ctx, dsn, testutil.TestLogger())
//	    ...
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresImage = "postgres:18-alpine"

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgresContainer starts a disposable Postgres container and waits
// until it accepts connections.
func StartPostgresContainer(ctx context.Context) (*TestContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "relay",
			"POSTGRES_PASSWORD": "relay",
			"POSTGRES_DB":       "relay",
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
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}
	tc := &TestContainer{Container: container}

	host, err := container.Host(ctx)
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}
	tc.DSN = fmt.Sprintf("postgres://relay:relay@%s:%s/relay?sslmode=disable", host, port.Port())

	// The log line can appear before the mapped port forwards traffic.
	conn, err := pgx.Connect(ctx, tc.DSN)
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()
	if err := conn.Ping(ctx); err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: ping: %w", err)
	}

	return tc, nil
}

// StartPostgres starts a container for the duration of t and returns its DSN.
// The test is skipped in short mode or when no container runtime is reachable.
func StartPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	// Container creation panics rather than erroring when no Docker host exists.
	testcontainers.SkipIfProviderIsNotHealthy(t)
	tc, err := StartPostgresContainer(context.Background())
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc.DSN
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
