package stores

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres runs a disposable Postgres container for the test and
// returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("openzap"),
		tcpostgres.WithUsername("openzap"),
		tcpostgres.WithPassword("openzap"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	newStore := func(t *testing.T) Store {
		store, err := NewPostgresStore(Config{DSN: dsn, MaxOpenConns: 4, ConnMaxLifetime: time.Minute})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("failed to initialize store: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to migrate store: %v", err)
		}
		// Subtests share the container, so each starts from empty tables.
		if _, err := store.db.ExecContext(ctx,
			`TRUNCATE step_executions, executions, steps, connections, actions, triggers, zaps CASCADE`); err != nil {
			t.Fatalf("failed to truncate tables: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	runStoreSuite(t, newStore)
}
