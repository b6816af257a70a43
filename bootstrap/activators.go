package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"contentmind/async"
	"contentmind/cache"
	"contentmind/config"
	"contentmind/core"
	"contentmind/storage"
)

// Activator brings one capability up and tears it down again. Activate must
// leave nothing open when it fails.
type Activator interface {
	Capability() core.Capability
	Activate(ctx context.Context, ac *AppContext) error
	Deactivate(ctx context.Context) error
}

// DefaultActivators returns the activators backed by the configured
// persistence, cache and executor.
func DefaultActivators(cfg *config.Config, logger *zap.SugaredLogger) map[core.Capability]Activator {
	return map[core.Capability]Activator{
		core.PersistenceAuditing:   &persistenceActivator{cfg: cfg, logger: logger},
		core.TransactionManagement: &transactionActivator{cfg: cfg, logger: logger},
		core.ResponseCaching:       &cacheActivator{cfg: cfg, logger: logger},
		core.AsyncExecution:        &asyncActivator{cfg: cfg, logger: logger},
	}
}

// openDatabase validates the persistence section, resolves the DSN and
// connects, running migrations when enabled.
func openDatabase(ctx context.Context, cfg *config.Config, secrets *config.SecretResolver, logger *zap.SugaredLogger) (*storage.Database, error) {
	if err := cfg.ValidatePersistence(); err != nil {
		return nil, err
	}
	p := cfg.Persistence

	dsn, err := secrets.Resolve(ctx, p.DSN)
	if err != nil {
		return nil, fmt.Errorf("resolve persistence.dsn: %w", err)
	}

	db, err := storage.Open(ctx, storage.Options{
		Driver:          storage.Driver(p.Driver),
		DSN:             dsn,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		ConnectTimeout:  p.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if p.Migrate {
		if err := storage.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return db, nil
}

type persistenceActivator struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	db     *storage.Database
}

func (a *persistenceActivator) Capability() core.Capability { return core.PersistenceAuditing }

func (a *persistenceActivator) Activate(ctx context.Context, ac *AppContext) error {
	db, err := openDatabase(ctx, a.cfg, ac.Secrets(), a.logger)
	if err != nil {
		return err
	}
	auditor := storage.NewAuditor(db, a.cfg.Persistence.DefaultActor, a.logger)

	if err := ac.SetDatabase(db); err != nil {
		_ = db.Close()
		return err
	}
	if err := ac.SetAuditor(auditor); err != nil {
		_ = db.Close()
		return err
	}
	a.db = db
	a.logger.Infow("Persistence auditing active",
		"driver", db.Driver,
		"default_actor", a.cfg.Persistence.DefaultActor)
	return nil
}

func (a *persistenceActivator) Deactivate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

type transactionActivator struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	// owned is set when persistence auditing was disabled and this
	// activator opened the database itself
	owned *storage.Database
}

func (a *transactionActivator) Capability() core.Capability { return core.TransactionManagement }

func (a *transactionActivator) Activate(ctx context.Context, ac *AppContext) error {
	if err := a.cfg.ValidateTransactions(); err != nil {
		return err
	}
	isolation, err := storage.ParseIsolation(a.cfg.Transactions.Isolation)
	if err != nil {
		return err
	}
	if isolation != sql.LevelDefault && storage.Driver(a.cfg.Persistence.Driver) == storage.DriverSQLite {
		// SQLite transactions are always serializable; the level is not applied
		a.logger.Warnw("transactions.isolation has no effect on sqlite",
			"isolation", a.cfg.Transactions.Isolation,
			"remediation", "remove transactions.isolation or use the postgres driver")
	}

	db := ac.rawDB()
	if db == nil {
		db, err = openDatabase(ctx, a.cfg, ac.Secrets(), a.logger)
		if err != nil {
			return err
		}
		if err := ac.SetDatabase(db); err != nil {
			_ = db.Close()
			return err
		}
		a.owned = db
	}

	tx := storage.NewTxManager(db, storage.TxOptions{
		Isolation: isolation,
		Timeout:   a.cfg.Transactions.DefaultTimeout,
	}, a.logger)
	if err := ac.SetTxManager(tx); err != nil {
		_ = a.Deactivate(ctx)
		return err
	}
	a.logger.Infow("Transaction management active",
		"isolation", a.cfg.Transactions.Isolation,
		"default_timeout", a.cfg.Transactions.DefaultTimeout,
		"owns_connection", a.owned != nil)
	return nil
}

func (a *transactionActivator) Deactivate(ctx context.Context) error {
	if a.owned == nil {
		return nil
	}
	err := a.owned.Close()
	a.owned = nil
	return err
}

type cacheActivator struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	cache  cache.Cache
}

func (a *cacheActivator) Capability() core.Capability { return core.ResponseCaching }

func (a *cacheActivator) Activate(ctx context.Context, ac *AppContext) error {
	if err := a.cfg.ValidateCache(); err != nil {
		return err
	}
	cc := a.cfg.Cache

	opts := cache.Options{
		Backend:    cc.Backend,
		DefaultTTL: cc.DefaultTTL,
		KeyPrefix:  cc.KeyPrefix,
		MemorySize: cc.Memory.Size,
	}
	if cc.Backend == cache.BackendRedis {
		password, err := ac.Secrets().Resolve(ctx, cc.Redis.Password)
		if err != nil {
			return fmt.Errorf("resolve cache.redis.password: %w", err)
		}
		opts.Redis = cache.RedisOptions{
			Addr:        cc.Redis.Addr,
			Password:    password,
			DB:          cc.Redis.DB,
			PoolSize:    cc.Redis.PoolSize,
			DialTimeout: cc.Redis.DialTimeout,
		}
	}

	c, err := cache.New(ctx, opts, a.logger)
	if err != nil {
		return err
	}
	if err := ac.SetCache(c); err != nil {
		_ = c.Close()
		return err
	}
	a.cache = c
	a.logger.Infow("Response caching active", "backend", c.Name(), "default_ttl", cc.DefaultTTL)
	return nil
}

func (a *cacheActivator) Deactivate(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	err := a.cache.Close()
	a.cache = nil
	return err
}

type asyncActivator struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	executor *async.Executor
}

func (a *asyncActivator) Capability() core.Capability { return core.AsyncExecution }

func (a *asyncActivator) Activate(ctx context.Context, ac *AppContext) error {
	if err := a.cfg.ValidateAsync(); err != nil {
		return err
	}
	acfg := a.cfg.Async

	// Tasks outlive startup, so the executor must not inherit the
	// activation deadline
	e := async.NewExecutor(context.WithoutCancel(ctx), async.Options{
		Name:      "default",
		Workers:   acfg.Workers,
		QueueSize: acfg.QueueSize,
		RateLimit: acfg.RateLimit,
		Burst:     acfg.Burst,
	}, a.logger)
	if err := e.Start(); err != nil {
		return err
	}
	if err := ac.SetExecutor(e); err != nil {
		_ = e.Stop(acfg.ShutdownTimeout)
		return err
	}
	a.executor = e
	a.logger.Infow("Async execution active", "workers", acfg.Workers, "queue_size", acfg.QueueSize)
	return nil
}

func (a *asyncActivator) Deactivate(ctx context.Context) error {
	if a.executor == nil {
		return nil
	}
	err := a.executor.Stop(a.cfg.Async.ShutdownTimeout)
	a.executor = nil
	return err
}
