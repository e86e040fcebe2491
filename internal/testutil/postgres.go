// Package testutil starts throwaway PostgreSQL instances for integration tests.
package testutil

import (
	"context"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/wildlands/internal/config"
	"github.com/cory-johannsen/wildlands/internal/storage/postgres"
	"github.com/cory-johannsen/wildlands/migrations"
)

const image = "postgres:16-alpine"

// NewPool starts a PostgreSQL container, applies every embedded up
// migration, and returns a pool against the empty world schema. The
// container is terminated when the test ends. Skipped under -short.
//
// Precondition: Docker must be available.
func NewPool(t *testing.T) *postgres.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()
	start := time.Now()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "wildlands",
				"POSTGRES_PASSWORD": "wildlands",
				"POSTGRES_DB":       "wildlands_test",
			},
			// Postgres restarts once after initdb; the second ready line is the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting %s: %v", image, err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	pool, err := postgres.NewPool(ctx, config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "wildlands",
		Password:        "wildlands",
		Name:            "wildlands_test",
		SSLMode:         "disable",
		MaxConns:        8,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("connecting to %s: %v", image, err)
	}
	t.Cleanup(pool.Close)

	n := migrate(t, pool)
	t.Logf("postgres ready with %d migrations [%s]", n, time.Since(start))
	return pool
}

// migrate runs the *.up.sql files in name order without the migrate tool.
func migrate(t *testing.T, pool *postgres.Pool) int {
	t.Helper()
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		t.Fatalf("listing migrations: %v", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		// No arguments, so pgx uses the simple protocol and accepts multiple statements.
		if _, err := pool.DB().Exec(context.Background(), string(sql)); err != nil {
			t.Fatalf("applying %s: %v", name, err)
		}
	}
	return len(names)
}
