package async

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"contentmind/metrics"
	"contentmind/util/goroutine"
)

// Errors
var (
	ErrExecutorNotRunning = errors.New("executor is not running")
	ErrExecutorStopped    = errors.New("executor has been stopped")
	ErrQueueFull          = errors.New("executor task queue is full")
	ErrRateLimited        = errors.New("executor submission rate limit exceeded")
	ErrShutdownTimeout    = errors.New("executor shutdown timed out")
	ErrTaskPanicked       = errors.New("task panicked")
)

// Task is a unit of background work. ctx is cancelled when the executor is
// forced to stop.
type Task func(ctx context.Context) error

// Options configures an Executor.
type Options struct {
	// Name identifies the executor in logs and metrics (^[a-zA-Z0-9_-]+$)
	Name      string
	Workers   int
	QueueSize int
	// RateLimit caps submissions per second; 0 disables limiting
	RateLimit float64
	Burst     int
}

// Defaults used when Options leaves a field zero.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 100
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type job struct {
	task   Task
	future *Future
}

// Executor runs submitted tasks on a fixed pool of workers fed by a
// bounded queue.
type Executor struct {
	name      string
	workers   int
	queueSize int
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan job
	wg     sync.WaitGroup
	// stopping is closed before Stop takes the write lock so blocked
	// SubmitWait callers release their read lock
	stopping chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	running bool
	stopped bool

	active    atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewExecutor creates an executor whose task contexts derive from parent.
// Workers are not started until Start.
func NewExecutor(parent context.Context, opts Options, logger *zap.SugaredLogger) *Executor {
	if opts.Name == "" || !validName.MatchString(opts.Name) {
		if opts.Name != "" {
			logger.Warnw("Invalid executor name, using default", "name", opts.Name)
		}
		opts.Name = "default"
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(math.Max(1, math.Ceil(opts.RateLimit)))
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	ctx, cancel := context.WithCancel(parent)
	return &Executor{
		name:      opts.Name,
		workers:   opts.Workers,
		queueSize: opts.QueueSize,
		limiter:   limiter,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan job, opts.QueueSize),
		stopping:  make(chan struct{}),
	}
}

// Name returns the executor's name.
func (e *Executor) Name() string { return e.name }

// Start launches the workers. Starting a running executor is a no-op;
// an executor cannot be restarted after Stop.
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrExecutorStopped
	}
	if e.running {
		return nil
	}
	e.running = true

	e.logger.Infof("Starting executor %s with %d workers and queue size %d", e.name, e.workers, e.queueSize)
	metrics.AsyncQueueDepth.WithLabelValues(e.name).Set(0)
	metrics.AsyncActiveWorkers.WithLabelValues(e.name).Set(0)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return nil
}

// Stop stops accepting tasks and waits up to timeout for queued and running
// tasks to finish. On timeout the task context is cancelled, tasks still
// queued complete with ErrExecutorStopped, and ErrShutdownTimeout is returned.
// Stop is safe to call more than once.
func (e *Executor) Stop(timeout time.Duration) error {
	e.stopOnce.Do(func() { close(e.stopping) })
	e.mu.Lock()
	if !e.running {
		e.stopped = true
		e.mu.Unlock()
		e.cancel()
		return nil
	}
	e.running = false
	e.stopped = true
	close(e.queue)
	e.mu.Unlock()

	e.logger.Infow("Stopping executor", "executor", e.name, "queued", len(e.queue))

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Infow("Executor stopped", "executor", e.name, "completed", e.completed.Load())
		return nil
	case <-time.After(timeout):
		e.cancel()
		e.logger.Errorw("Executor shutdown timed out, cancelling running tasks",
			"executor", e.name,
			"timeout", timeout,
			"active", e.active.Load(),
			"remediation", "tasks that ignore context cancellation keep running until they return")
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

// Submit queues task without blocking.
func (e *Executor) Submit(name string, task Task) (*Future, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.admit(); err != nil {
		return nil, err
	}

	f := newFuture(name)
	select {
	case e.queue <- job{task: task, future: f}:
		e.accepted()
		return f, nil
	default:
		metrics.AsyncTasksRejected.WithLabelValues(e.name, "queue_full").Inc()
		return nil, ErrQueueFull
	}
}

// SubmitWait queues task, blocking while the queue is full until ctx is done
// or the executor begins stopping.
func (e *Executor) SubmitWait(ctx context.Context, name string, task Task) (*Future, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.admit(); err != nil {
		return nil, err
	}

	f := newFuture(name)
	select {
	case e.queue <- job{task: task, future: f}:
		e.accepted()
		return f, nil
	case <-ctx.Done():
		metrics.AsyncTasksRejected.WithLabelValues(e.name, "timeout").Inc()
		return nil, ctx.Err()
	case <-e.stopping:
		metrics.AsyncTasksRejected.WithLabelValues(e.name, "not_running").Inc()
		return nil, ErrExecutorStopped
	case <-e.ctx.Done():
		return nil, ErrExecutorStopped
	}
}

// admit must be called with e.mu held for reading
func (e *Executor) admit() error {
	if !e.running {
		metrics.AsyncTasksRejected.WithLabelValues(e.name, "not_running").Inc()
		if e.stopped {
			return ErrExecutorStopped
		}
		return ErrExecutorNotRunning
	}
	if e.limiter != nil && !e.limiter.Allow() {
		metrics.AsyncTasksRejected.WithLabelValues(e.name, "rate_limited").Inc()
		return ErrRateLimited
	}
	return nil
}

func (e *Executor) accepted() {
	e.submitted.Add(1)
	metrics.AsyncTasksSubmitted.WithLabelValues(e.name).Inc()
	metrics.AsyncQueueDepth.WithLabelValues(e.name).Set(float64(len(e.queue)))
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	defer goroutine.Recover("executor-"+e.name, e.logger)

	e.logger.Debugw("Worker started", "executor", e.name, "worker_id", id)
	// The queue is always drained so every Future completes
	for j := range e.queue {
		metrics.AsyncQueueDepth.WithLabelValues(e.name).Set(float64(len(e.queue)))
		e.run(j)
	}
	e.logger.Debugw("Worker stopping due to closed queue", "executor", e.name, "worker_id", id)
}

// run fails jobs still queued once the task context is cancelled, either by
// a Stop timeout or by the parent context.
func (e *Executor) run(j job) {
	if err := e.ctx.Err(); err != nil {
		e.finish(j.future, fmt.Errorf("%w: %v", ErrExecutorStopped, err), "cancelled", 0)
		return
	}

	e.active.Add(1)
	metrics.AsyncActiveWorkers.WithLabelValues(e.name).Set(float64(e.active.Load()))
	start := time.Now()

	err := e.invoke(j)

	e.active.Add(-1)
	metrics.AsyncActiveWorkers.WithLabelValues(e.name).Set(float64(e.active.Load()))

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
		e.logger.Warnw("Task failed",
			"executor", e.name,
			"task", j.future.Name,
			"task_id", j.future.ID,
			"error", err)
	}
	e.finish(j.future, err, outcome, time.Since(start))
}

func (e *Executor) invoke(j job) (err error) {
	defer func() {
		var pe *goroutine.PanicError
		if errors.As(err, &pe) {
			err = fmt.Errorf("%w: %w", ErrTaskPanicked, pe)
		}
	}()
	defer goroutine.RecoverTo(&err, "executor-"+e.name+"/"+j.future.Name, e.logger)
	return j.task(e.ctx)
}

func (e *Executor) finish(f *Future, err error, outcome string, d time.Duration) {
	if err != nil {
		e.failed.Add(1)
	}
	e.completed.Add(1)
	metrics.AsyncTasksCompleted.WithLabelValues(e.name, outcome).Inc()
	if d > 0 {
		metrics.AsyncTaskDuration.WithLabelValues(e.name).Observe(d.Seconds())
	}
	f.complete(err)
}

// Stats is a point-in-time view of an executor.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Queued    int    `json:"queued"`
	Active    int64  `json:"active"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Running   bool   `json:"running"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()

	return Stats{
		Name:      e.name,
		Workers:   e.workers,
		QueueSize: e.queueSize,
		Queued:    len(e.queue),
		Active:    e.active.Load(),
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Running:   running,
	}
}

// Future tracks the completion of one submitted task.
type Future struct {
	ID          uuid.UUID
	Name        string
	SubmittedAt time.Time

	done chan struct{}
	err  error
}

func newFuture(name string) *Future {
	return &Future{
		ID:          uuid.New(),
		Name:        name,
		SubmittedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the task's error once Done is closed, and nil before.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
