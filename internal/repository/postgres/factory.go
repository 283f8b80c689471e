package postgres

import (
	"context"
	"fmt"

	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// NewRepositories creates all PostgreSQL repository implementations.
// This factory creates a connection pool, runs migrations, and wires all
// repository instances. Returns the repositories and a cleanup function
// to close the pool.
func NewRepositories(ctx context.Context, connString string, maxConns int32) (*repository.Repositories, func(), error) {
	pool, err := NewPool(ctx, connString, maxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	repos := &repository.Repositories{
		Uploads:    NewUploadRepository(pool),
		RateLimits: NewRateLimitRepository(pool),
	}

	return repos, cleanup, nil
}
