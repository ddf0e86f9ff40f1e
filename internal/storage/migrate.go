package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// RunMigrations applies every pending migration found at the root of fsys.
func RunMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS, logger *slog.Logger) error {
	const op = "storage.RunMigrations"

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(results) == 0 {
		logger.Debug("no migrations to apply", "dialect", dialect)
		return nil
	}
	for _, r := range results {
		logger.Info("migration applied",
			"dialect", dialect,
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}
	return nil
}
