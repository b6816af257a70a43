package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"contentmind/metrics"
)

// Executor is the query surface shared by *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type ambientTx struct {
	tx *sql.Tx
	db *Database
}

// TxOptions controls a transaction begun by WithinTx.
type TxOptions struct {
	ReadOnly  bool
	Isolation sql.IsolationLevel
	// Timeout bounds the whole transaction; 0 means no timeout
	Timeout time.Duration
}

// TxOption overrides a TxOptions field for one call.
type TxOption func(*TxOptions)

// ReadOnly marks the transaction read-only.
func ReadOnly() TxOption {
	return func(o *TxOptions) { o.ReadOnly = true }
}

// WithIsolation sets the isolation level.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(o *TxOptions) { o.Isolation = level }
}

// WithTimeout overrides the default transaction timeout.
func WithTimeout(d time.Duration) TxOption {
	return func(o *TxOptions) { o.Timeout = d }
}

// ParseIsolation maps a config value onto a database/sql isolation level.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_uncommitted":
		return sql.LevelReadUncommitted, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", s)
	}
}

// TxManager demarcates transactions around state-mutating operations.
type TxManager struct {
	db       *Database
	defaults TxOptions
	logger   *zap.SugaredLogger
}

// NewTxManager returns a manager whose transactions use defaults unless
// overridden per call.
func NewTxManager(db *Database, defaults TxOptions, logger *zap.SugaredLogger) *TxManager {
	return &TxManager{db: db, defaults: defaults, logger: logger}
}

// Database returns the database transactions are begun on.
func (m *TxManager) Database() *Database {
	return m.db
}

// WithinTx runs fn inside a transaction. If ctx already carries a
// transaction on the same database, fn joins it and the outermost call
// decides commit or rollback. Otherwise a new transaction is begun and
// committed when fn returns nil, or rolled back when fn returns an error or
// panics. Panics are re-raised after rollback.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) (err error) {
	if amb, ok := ctx.Value(txKey{}).(*ambientTx); ok && amb.db == m.db {
		return fn(ctx)
	}

	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	tx, err := m.db.DB.BeginTx(ctx, &sql.TxOptions{Isolation: o.Isolation, ReadOnly: o.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			m.observe(metrics.OutcomeRollback, start)
			m.logger.Warnw("Transaction rolled back after panic", "panic", p)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, &ambientTx{tx: tx, db: m.db})); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			m.logger.Errorw("Transaction rollback failed", "error", rbErr)
		}
		m.observe(metrics.OutcomeRollback, start)
		return err
	}

	if err := tx.Commit(); err != nil {
		m.observe(metrics.OutcomeRollback, start)
		return fmt.Errorf("commit transaction: %w", err)
	}
	m.observe(metrics.OutcomeCommit, start)
	return nil
}

func (m *TxManager) observe(outcome string, start time.Time) {
	metrics.Transactions.WithLabelValues(outcome).Inc()
	metrics.TransactionDuration.Observe(time.Since(start).Seconds())
}

// Executor returns the ambient transaction if ctx carries one for this
// manager's database, otherwise the database itself.
func (m *TxManager) Executor(ctx context.Context) Executor {
	return executorFor(ctx, m.db)
}

// InTx reports whether ctx carries an ambient transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*ambientTx)
	return ok
}

func executorFor(ctx context.Context, db *Database) Executor {
	if amb, ok := ctx.Value(txKey{}).(*ambientTx); ok && amb.db == db {
		return amb.tx
	}
	return db.DB
}
