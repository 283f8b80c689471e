package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// NewRepositories creates all SQLite repository implementations.
// This factory opens the database, runs the schema bootstrap, and wires
// all repository instances. Returns the repositories and a cleanup
// function to close the database.
func NewRepositories(ctx context.Context, path string) (*repository.Repositories, func(), error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run SQLite migrations: %w", err)
	}

	cleanup := func() {
		db.Close()
	}

	return NewRepositoriesWithDB(db), cleanup, nil
}

// NewRepositoriesWithDB wires repositories over an existing database.
// The caller is responsible for closing the database.
func NewRepositoriesWithDB(db *sql.DB) *repository.Repositories {
	return &repository.Repositories{
		Uploads:    NewUploadRepository(db),
		RateLimits: NewRateLimitRepository(db),
	}
}
