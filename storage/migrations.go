package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migration is a versioned schema change. Up receives the migration's own
// transaction and the dialect so a single migration can carry per-driver DDL.
type Migration struct {
	Version  string // Semantic version (e.g., "1.0.0")
	Name     string // Descriptive name (e.g., "create_audit_log")
	Up       func(ctx context.Context, tx *sql.Tx, driver Driver) error
	Checksum string // Drift detection; derived from version and name when empty
}

// MigrationRecord represents a row in the schema_migrations table
type MigrationRecord struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// MigrationRunner applies registered migrations in version order, each in
// its own transaction.
type MigrationRunner struct {
	db         *Database
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewMigrationRunner creates the schema_migrations table if needed.
func NewMigrationRunner(ctx context.Context, db *Database, logger *zap.SugaredLogger) (*MigrationRunner, error) {
	runner := &MigrationRunner{db: db, logger: logger}
	if err := runner.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	return runner, nil
}

// applied_at is stored as RFC3339 text so the table is identical on every dialect
func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.DB.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`)
	return err
}

// Register adds migrations to the runner.
func (r *MigrationRunner) Register(ms ...Migration) {
	for _, m := range ms {
		if m.Checksum == "" {
			m.Checksum = checksum(m)
		}
		r.migrations = append(r.migrations, m)
	}
}

func checksum(m Migration) string {
	hash := sha256.Sum256([]byte(m.Version + ":" + m.Name))
	return hex.EncodeToString(hash[:8])
}

// Applied returns applied migrations in version order.
func (r *MigrationRunner) Applied(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT version, name, checksum, applied_at, duration_ms
		FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			rec       MigrationRecord
			appliedAt string
		)
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &appliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		rec.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return compareVersions(records[i].Version, records[j].Version) < 0
	})
	return records, nil
}

// Pending returns registered migrations that have not been applied.
func (r *MigrationRunner) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return compareVersions(pending[i].Version, pending[j].Version) < 0
	})
	return pending, nil
}

// Run applies all pending migrations, stopping at the first failure.
func (r *MigrationRunner) Run(ctx context.Context) error {
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logger.Debug("No pending migrations")
		return nil
	}

	r.logger.Infof("Running %d pending migrations", len(pending))
	for _, m := range pending {
		if err := r.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
	}
	r.logger.Info("All migrations completed successfully")
	return nil
}

// runMigration applies a single migration within a transaction.
// A panic inside Up is rolled back and returned as an error.
func (r *MigrationRunner) runMigration(ctx context.Context, m Migration) (err error) {
	r.logger.Infof("Running migration %s: %s", m.Version, m.Name)
	start := time.Now()

	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("migration panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("migration panicked: %v", p)
			}
		}
	}()

	if err := m.Up(ctx, tx, r.db.Driver); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration Up() failed: %w", err)
	}

	duration := time.Since(start).Milliseconds()
	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)`),
		m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339Nano), duration)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	r.logger.Infof("Migration %s completed in %dms", m.Version, duration)
	return nil
}

// VerifyIntegrity reports applied migrations whose checksum no longer matches
// the registered one, and applied migrations that are no longer registered.
func (r *MigrationRunner) VerifyIntegrity(ctx context.Context) ([]string, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]Migration, len(r.migrations))
	for _, m := range r.migrations {
		registered[m.Version] = m
	}

	var issues []string
	for _, rec := range applied {
		m, ok := registered[rec.Version]
		if !ok {
			issues = append(issues, fmt.Sprintf(
				"Migration %s was applied but is not registered (orphaned migration)", rec.Version))
			continue
		}
		if m.Checksum != rec.Checksum {
			issues = append(issues, fmt.Sprintf(
				"Migration %s checksum mismatch: applied=%s, registered=%s (possible code drift)",
				rec.Version, rec.Checksum, m.Checksum))
		}
	}
	return issues, nil
}

// compareVersions compares two dotted numeric versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b
func compareVersions(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")

	maxLen := len(partsA)
	if len(partsB) > maxLen {
		maxLen = len(partsB)
	}

	for i := 0; i < maxLen; i++ {
		var numA, numB int
		if i < len(partsA) {
			fmt.Sscanf(partsA[i], "%d", &numA)
		}
		if i < len(partsB) {
			fmt.Sscanf(partsB[i], "%d", &numB)
		}
		if numA < numB {
			return -1
		}
		if numA > numB {
			return 1
		}
	}
	return 0
}

// Migrate applies the built-in migrations to db.
func Migrate(ctx context.Context, db *Database, logger *zap.SugaredLogger) error {
	runner, err := NewMigrationRunner(ctx, db, logger)
	if err != nil {
		return err
	}
	runner.Register(Migrations()...)
	if err := runner.Run(ctx); err != nil {
		return err
	}

	issues, err := runner.VerifyIntegrity(ctx)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		logger.Warn(issue)
	}
	return nil
}

// Migrations returns the platform's built-in schema migrations.
func Migrations() []Migration {
	return []Migration{
		{
			Version: "1.0.0",
			Name:    "create_audit_log",
			Up:      createAuditLog,
		},
	}
}

func createAuditLog(ctx context.Context, tx *sql.Tx, driver Driver) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			` + idColumn + `,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			details TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
