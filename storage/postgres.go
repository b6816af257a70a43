package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func openPostgres(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	applyPool(db, opts)

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to query PostgreSQL version: %w", err)
	}

	logger.Infow("PostgreSQL connection verified",
		"server_version", version,
		"max_open_conns", opts.MaxOpenConns)
	return db, nil
}
