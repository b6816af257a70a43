package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied by the driver on every new connection, so every
// connection in the pool gets them, not just the first one.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

func isSQLiteMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}

// sqliteDSN turns a path or file: URI into a modernc DSN carrying our pragmas.
func sqliteDSN(dsn string) string {
	memory := isSQLiteMemory(dsn)
	if dsn == ":memory:" {
		// Shared cache so every pooled connection sees the same in-memory database
		dsn = "file::memory:?cache=shared"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	params := make([]string, 0, len(sqlitePragmas)+1)
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	if !memory {
		params = append(params, "_pragma=journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func openSQLite(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*sql.DB, error) {
	memory := isSQLiteMemory(opts.DSN)

	if !memory && !strings.HasPrefix(opts.DSN, "file:") {
		dir := filepath.Dir(opts.DSN)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(opts.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	applyPool(db, opts)
	if memory {
		// Shared-cache in-memory databases use table locks that busy_timeout
		// does not cover; serialize on one connection instead.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if err := verifySQLite(ctx, db, memory, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// verifySQLite confirms the pragmas actually took effect.
func verifySQLite(ctx context.Context, db *sql.DB, memory bool, logger *zap.SugaredLogger) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var fkEnabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory"
	if !memory && !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}

	logger.Infow("SQLite connection verified", "journal_mode", journalMode, "foreign_keys", true)
	return nil
}
