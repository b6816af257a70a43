package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contentmind/api"
	"contentmind/config"
	"contentmind/core"
	"contentmind/metrics"
	"contentmind/util/goroutine"
)

// App is the composition root. It activates the enabled capabilities in
// order, builds request-handling components, and only then serves.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	machine        *core.StateMachine
	caps           core.CapabilitySet
	appCtx         *AppContext
	activators     map[core.Capability]Activator
	factories      []namedFactory
	tracer         trace.Tracer
	shutdownTracer func(context.Context) error
	stderr         io.Writer

	mu         sync.Mutex
	reports    []core.ActivationReport
	activated  []Activator
	components []namedComponent

	server         *api.Server
	health         *api.HealthServer
	runtimeStopped bool

	// Lifecycle
	serviceWg    sync.WaitGroup
	serveErr     chan error
	shutdownOnce sync.Once
	shutdownErr  error
}

type namedComponent struct {
	name string
	comp Component
}

// NewApp parses args into configuration and builds the logger and tracer.
// It opens no connections and binds nothing. A request for help is returned
// as an error wrapping config.ErrHelp without printing the failure banner.
func NewApp(ctx context.Context, args []string, opts ...Option) (*App, error) {
	o := options{stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ctx.Err(); err != nil {
		return nil, core.NewStartupError("", core.StageConfig, fmt.Errorf("startup cancelled: %w", err))
	}

	cfg, err := InitConfig(args, o.configPaths)
	if err != nil {
		if !errors.Is(err, config.ErrHelp) {
			printFatal(o.stderr, err, Remediation(err, nil))
		}
		return nil, err
	}

	sugar := o.logger
	var logger *zap.Logger
	if sugar == nil {
		logger, sugar, err = InitLogger(cfg.Logging)
		if err != nil {
			se := core.NewStartupError("", core.StageConfig, fmt.Errorf("failed to initialize logger: %w", err))
			printFatal(o.stderr, se, "")
			return nil, se
		}
	} else {
		logger = sugar.Desugar()
	}

	caps := cfg.Capabilities.Set()
	app := &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      sugar,
		caps:       caps,
		appCtx:     newAppContext(cfg, caps, sugar),
		activators: DefaultActivators(cfg, sugar),
		factories:  o.factories,
		stderr:     o.stderr,
	}
	for c, a := range o.activators {
		app.activators[c] = a
	}

	tp := o.tracerProvider
	if tp == nil {
		tp, app.shutdownTracer = InitTracer(cfg.Tracing, sugar)
	} else {
		app.shutdownTracer = func(context.Context) error { return nil }
	}
	app.tracer = tp.Tracer(tracerName)

	app.machine = core.NewStateMachine(func(from, to core.State) {
		metrics.AppState.Set(float64(to))
		sugar.Infow("State transition", "from", from.String(), "to", to.String())
	})
	metrics.AppState.Set(float64(core.Uninitialized))

	sugar.Info("contentmind starting...")
	logConfig(cfg, caps, sugar)
	return app, nil
}

// Start is NewApp followed by (*App).Start. On a Start failure the App is
// returned alongside the error so the caller can still Shutdown to flush
// logs and spans.
func Start(ctx context.Context, args []string, opts ...Option) (*App, error) {
	app, err := NewApp(ctx, args, opts...)
	if err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return app, err
	}
	return app, nil
}

// Start activates every enabled capability, builds components, binds the
// listeners and begins serving. Any failure rolls back what was activated in
// reverse order and leaves the App in Failed with a *core.StartupError.
func (a *App) Start(ctx context.Context) (err error) {
	if err := a.machine.Transition(core.CapabilitiesActivating); err != nil {
		return err
	}

	ctx, span := a.tracer.Start(ctx, "bootstrap.start",
		trace.WithAttributes(attribute.String("capabilities", a.caps.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := a.activateAll(ctx); err != nil {
		return a.fail(err)
	}
	a.appCtx.seal()

	a.server = api.NewServer(a, api.Options{
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: a.Config.Server.ReadHeaderTimeout,
		WriteTimeout:      a.Config.Server.WriteTimeout,
		IdleTimeout:       a.Config.Server.IdleTimeout,
	}, a.Sugar)

	if err := a.buildComponents(ctx); err != nil {
		return a.fail(core.NewStartupError("", core.StageComponents, err))
	}
	if err := a.bind(); err != nil {
		return a.fail(core.NewStartupError("", core.StageRuntime, err))
	}
	if err := a.machine.Transition(core.Ready); err != nil {
		return a.fail(core.NewStartupError("", core.StageRuntime, err))
	}
	if a.health != nil {
		a.health.SetReady(true)
	}
	a.serve()

	a.Sugar.Infow("Application ready",
		"http_addr", a.server.Addr(),
		"grpc_addr", a.GRPCAddr(),
		"capabilities", a.caps.String())
	return nil
}

// Probe activates every enabled capability and immediately deactivates
// them again without binding any listener. It backs the check command.
func (a *App) Probe(ctx context.Context) ([]core.ActivationReport, error) {
	if err := a.machine.Transition(core.CapabilitiesActivating); err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "bootstrap.probe")
	defer span.End()

	err := a.activateAll(ctx)
	rollbackCtx, cancel := context.WithTimeout(context.Background(), a.Config.Startup.ShutdownTimeout)
	defer cancel()
	if dErr := a.deactivateAll(rollbackCtx); dErr != nil {
		a.Sugar.Warnw("Deactivation after probe reported errors", "error", dErr)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = a.machine.Transition(core.Failed)
		return a.Reports(), err
	}
	_ = a.machine.Transition(core.Ready)
	_ = a.machine.Transition(core.Stopped)
	return a.Reports(), nil
}

func (a *App) activateAll(ctx context.Context) error {
	timeout := a.Config.Startup.ActivationTimeout
	actCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.Sugar.Infow("Activating capabilities", "order", a.caps.List(), "timeout", timeout)
	for _, c := range a.caps.List() {
		act, ok := a.activators[c]
		if !ok {
			return core.NewStartupError(c, core.StageActivation, errors.New("no activator registered"))
		}
		if err := a.activate(actCtx, act); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && actCtx.Err() != nil {
				err = fmt.Errorf("activation exceeded startup.activation_timeout (%s): %w", timeout, err)
			}
			return core.NewStartupError(c, core.StageActivation, err)
		}
	}
	return nil
}

func (a *App) activate(ctx context.Context, act Activator) error {
	c := act.Capability()
	ctx, span := a.tracer.Start(ctx, "activate "+string(c),
		trace.WithAttributes(attribute.String("capability", string(c))))
	defer span.End()

	report := core.ActivationReport{Capability: c, StartedAt: time.Now()}
	err := act.Activate(ctx, a.appCtx)
	report.CompletedAt = time.Now()
	report.Err = err

	a.mu.Lock()
	a.reports = append(a.reports, report)
	a.mu.Unlock()
	metrics.CapabilityActivationDuration.WithLabelValues(string(c)).Observe(report.Duration().Seconds())

	if err != nil {
		metrics.CapabilityActivations.WithLabelValues(string(c), metrics.OutcomeFailure).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.Sugar.Errorw("Capability activation failed",
			"capability", c,
			"duration", report.Duration(),
			"error", err)
		return err
	}

	a.mu.Lock()
	a.activated = append(a.activated, act)
	a.mu.Unlock()
	a.appCtx.markActive(c, true)
	metrics.CapabilityActivations.WithLabelValues(string(c), metrics.OutcomeSuccess).Inc()
	metrics.CapabilityActive.WithLabelValues(string(c)).Set(1)
	a.Sugar.Infow("Capability activated", "capability", c, "duration", report.Duration())
	return nil
}

// deactivateAll tears down activated capabilities in reverse order.
func (a *App) deactivateAll(ctx context.Context) error {
	a.mu.Lock()
	activated := a.activated
	a.activated = nil
	a.mu.Unlock()

	var errs []error
	for i := len(activated) - 1; i >= 0; i-- {
		act := activated[i]
		c := act.Capability()
		a.appCtx.markActive(c, false)
		metrics.CapabilityActive.WithLabelValues(string(c)).Set(0)
		if err := act.Deactivate(ctx); err != nil {
			a.Sugar.Errorw("Capability deactivation failed", "capability", c, "error", err)
			errs = append(errs, fmt.Errorf("deactivate %s: %w", c, err))
			continue
		}
		a.Sugar.Infow("Capability deactivated", "capability", c)
	}
	return errors.Join(errs...)
}

func (a *App) buildComponents(ctx context.Context) error {
	_, span := a.tracer.Start(ctx, "bootstrap.components")
	defer span.End()

	for _, nf := range a.factories {
		comp, err := nf.factory(a.appCtx)
		if err != nil {
			return fmt.Errorf("component %s: %w", nf.name, err)
		}
		if err := a.appCtx.addComponent(nf.name, comp); err != nil {
			closeComponent(comp)
			return err
		}
		a.mu.Lock()
		a.components = append(a.components, namedComponent{name: nf.name, comp: comp})
		a.mu.Unlock()

		if r, ok := comp.(RouteRegistrar); ok {
			r.RegisterRoutes(a.server.APIRouter())
		}
		a.Sugar.Debugw("Component constructed", "component", nf.name)
	}
	return nil
}

func closeComponent(comp Component) error {
	if c, ok := comp.(Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *App) closeComponents() error {
	a.mu.Lock()
	comps := a.components
	a.components = nil
	a.mu.Unlock()

	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		if err := closeComponent(comps[i].comp); err != nil {
			a.Sugar.Errorw("Component close failed", "component", comps[i].name, "error", err)
			errs = append(errs, fmt.Errorf("close component %s: %w", comps[i].name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) bind() error {
	if err := a.server.Listen(a.Config.Server.Addr()); err != nil {
		return err
	}
	if addr := a.Config.Server.GRPCAddr(); addr != "" {
		a.health = api.NewHealthServer(a.Sugar)
		if err := a.health.Listen(addr); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) serve() {
	a.serveErr = make(chan error, 2)

	a.serviceWg.Add(1)
	goroutine.Go("http-server", a.Sugar, func() {
		defer a.serviceWg.Done()
		if err := a.server.Serve(); err != nil {
			a.Sugar.Errorf("API server error: %v", err)
			a.serveErr <- fmt.Errorf("http server: %w", err)
		}
	})

	if a.health != nil {
		a.serviceWg.Add(1)
		goroutine.Go("grpc-health-server", a.Sugar, func() {
			defer a.serviceWg.Done()
			if err := a.health.Serve(); err != nil {
				a.Sugar.Errorf("gRPC health server error: %v", err)
				a.serveErr <- fmt.Errorf("grpc server: %w", err)
			}
		})
	}
}

func (a *App) stopRuntime(ctx context.Context) error {
	a.mu.Lock()
	if a.runtimeStopped {
		a.mu.Unlock()
		return nil
	}
	a.runtimeStopped = true
	a.mu.Unlock()

	var err error
	if a.health != nil {
		a.health.SetReady(false)
		a.health.Stop(ctx)
	}
	if a.server != nil {
		err = a.server.Stop(ctx)
	}
	a.serviceWg.Wait()
	return err
}

// fail rolls back everything started so far and moves to Failed.
func (a *App) fail(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Startup.ShutdownTimeout)
	defer cancel()

	a.Sugar.Errorw("Startup failed, rolling back", "error", err)
	if rErr := a.stopRuntime(ctx); rErr != nil {
		a.Sugar.Warnw("Stopping listeners during rollback failed", "error", rErr)
	}
	if cErr := a.closeComponents(); cErr != nil {
		a.Sugar.Warnw("Closing components during rollback failed", "error", cErr)
	}
	if dErr := a.deactivateAll(ctx); dErr != nil {
		a.Sugar.Warnw("Deactivating capabilities during rollback failed", "error", dErr)
	}
	if tErr := a.machine.Transition(core.Failed); tErr != nil {
		a.Sugar.Errorw("Unexpected state during rollback", "error", tErr)
	}

	printFatal(a.stderr, err, Remediation(err, a.Config))
	return err
}

// WaitForShutdown blocks until SIGINT/SIGTERM, ctx cancellation, or a
// listener failing. Only the latter returns an error.
func (a *App) WaitForShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		a.Sugar.Info("Shutdown signal received")
		return nil
	case err := <-a.serveErr:
		return err
	}
}

// Shutdown stops the listeners, closes components, deactivates capabilities
// in reverse activation order and flushes tracer and logger. It is safe to
// call more than once and after a failed Start.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")
		state := a.machine.Current()

		ctx, cancel := context.WithTimeout(ctx, a.Config.Startup.ShutdownTimeout)
		defer cancel()

		var errs []error
		a.Sugar.Info("Phase 1: Stopping listeners...")
		errs = append(errs, a.stopRuntime(ctx))

		a.Sugar.Info("Phase 2: Closing components...")
		errs = append(errs, a.closeComponents())

		a.Sugar.Info("Phase 3: Deactivating capabilities...")
		errs = append(errs, a.deactivateAll(ctx))

		if state == core.Ready {
			if err := a.machine.Transition(core.Stopped); err != nil {
				errs = append(errs, err)
			}
		}

		a.Sugar.Info("Phase 4: Flushing tracer and logger...")
		errs = append(errs, a.shutdownTracer(ctx))
		_ = a.Logger.Sync()

		a.shutdownErr = errors.Join(errs...)
		a.Sugar.Infow("Shutdown complete", "state", a.machine.Current().String())
	})
	return a.shutdownErr
}

// State returns the current lifecycle state.
func (a *App) State() core.State { return a.machine.Current() }

// Capabilities returns the frozen capability set.
func (a *App) Capabilities() core.CapabilitySet { return a.caps }

// Context returns the application context handed to components.
func (a *App) Context() *AppContext { return a.appCtx }

// Reports returns a copy of the activation reports recorded so far.
func (a *App) Reports() []core.ActivationReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.ActivationReport, len(a.reports))
	copy(out, a.reports)
	return out
}

// Addr returns the bound HTTP address, or "" unless Ready.
func (a *App) Addr() string {
	if a.State() != core.Ready || a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// GRPCAddr returns the bound gRPC health address, or "" when disabled or
// not Ready.
func (a *App) GRPCAddr() string {
	if a.State() != core.Ready || a.health == nil {
		return ""
	}
	return a.health.Addr()
}
