package bootstrap

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"contentmind/async"
	"contentmind/cache"
	"contentmind/config"
	"contentmind/core"
	"contentmind/storage"
)

// ErrContextSealed is returned when a value is provided after activation.
var ErrContextSealed = errors.New("application context is read-only after activation")

// AppContext is the explicit application context handed to activators and
// components. Activators populate it; once every capability is active it is
// sealed and only read from.
type AppContext struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	caps    core.CapabilitySet
	secrets *config.SecretResolver

	mu         sync.RWMutex
	sealed     bool
	active     map[core.Capability]bool
	db         *storage.Database
	auditor    *storage.Auditor
	tx         *storage.TxManager
	cache      cache.Cache
	executor   *async.Executor
	components map[string]Component
}

func newAppContext(cfg *config.Config, caps core.CapabilitySet, logger *zap.SugaredLogger) *AppContext {
	return &AppContext{
		cfg:        cfg,
		logger:     logger,
		caps:       caps,
		secrets:    config.NewSecretResolver(cfg.Secrets),
		active:     make(map[core.Capability]bool),
		components: make(map[string]Component),
	}
}

func (c *AppContext) Config() *config.Config           { return c.cfg }
func (c *AppContext) Logger() *zap.SugaredLogger       { return c.logger }
func (c *AppContext) Capabilities() core.CapabilitySet { return c.caps }
func (c *AppContext) Secrets() *config.SecretResolver  { return c.secrets }

// Active reports whether capability has finished activating.
func (c *AppContext) Active(capability core.Capability) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[capability]
}

// DB returns the database handle, or nil when neither persistence nor
// transaction management is active.
func (c *AppContext) DB() *storage.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active[core.PersistenceAuditing] && !c.active[core.TransactionManagement] {
		return nil
	}
	return c.db
}

// Auditor returns nil unless PersistenceAuditing is active.
func (c *AppContext) Auditor() *storage.Auditor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active[core.PersistenceAuditing] {
		return nil
	}
	return c.auditor
}

// Tx returns nil unless TransactionManagement is active.
func (c *AppContext) Tx() *storage.TxManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active[core.TransactionManagement] {
		return nil
	}
	return c.tx
}

// Cache returns nil unless ResponseCaching is active.
func (c *AppContext) Cache() cache.Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active[core.ResponseCaching] {
		return nil
	}
	return c.cache
}

// Executor returns nil unless AsyncExecution is active.
func (c *AppContext) Executor() *async.Executor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active[core.AsyncExecution] {
		return nil
	}
	return c.executor
}

// Component looks up a constructed request-handling component by name.
func (c *AppContext) Component(name string) (Component, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.components[name]
	return comp, ok
}

// Handles are visible through the accessors only once their capability is
// marked active, so a half-activated capability is never observable.

// SetDatabase provides the shared database handle.
func (c *AppContext) SetDatabase(db *storage.Database) error {
	return c.provide(func() { c.db = db })
}

// SetAuditor provides the auditor.
func (c *AppContext) SetAuditor(a *storage.Auditor) error {
	return c.provide(func() { c.auditor = a })
}

// SetTxManager provides the transaction manager.
func (c *AppContext) SetTxManager(tx *storage.TxManager) error {
	return c.provide(func() { c.tx = tx })
}

// SetCache provides the cache backend.
func (c *AppContext) SetCache(ch cache.Cache) error {
	return c.provide(func() { c.cache = ch })
}

// SetExecutor provides the async executor.
func (c *AppContext) SetExecutor(e *async.Executor) error {
	return c.provide(func() { c.executor = e })
}

func (c *AppContext) provide(set func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return ErrContextSealed
	}
	set()
	return nil
}

// rawDB returns the handle regardless of activation state. Activators use it
// to share the connection opened by an earlier capability.
func (c *AppContext) rawDB() *storage.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func (c *AppContext) markActive(capability core.Capability, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[capability] = active
}

func (c *AppContext) addComponent(name string, comp Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.components[name]; dup {
		return fmt.Errorf("component %q registered twice", name)
	}
	c.components[name] = comp
	return nil
}

func (c *AppContext) seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}
