package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/taskdispatch/internal/retry"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/schema"
)

// ErrAlreadyStarted is returned by Start on a running pool.
var ErrAlreadyStarted = errors.New("worker: pool already started")

// DefaultWorkerID is the worker identity used when Config.WorkerID is empty.
const DefaultWorkerID = "externalTaskProcessor"

// Sender hands a populated command to the transport.
type Sender interface {
	Send(ctx context.Context, cmd any) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, cmd any) error

func (f SenderFunc) Send(ctx context.Context, cmd any) error { return f(ctx, cmd) }

// Config controls the polling loop.
type Config struct {
	// WorkerID is the identity under which tasks are locked.
	WorkerID string

	// Workers is the number of concurrent polling loops.
	Workers int

	// BatchSize caps the number of tasks claimed per cycle.
	BatchSize int

	// LockDuration is how long claimed tasks stay locked at the engine.
	LockDuration time.Duration

	// EmptyWait is the pause after a cycle that claimed nothing.
	EmptyWait time.Duration

	// FailureRetry governs how a task failure is reported back to the
	// engine. Exhausting it stops the worker that hit it.
	FailureRetry api.RetryPolicy

	// UsePriority asks the engine to hand out higher-priority tasks first.
	UsePriority bool
}

// DefaultConfig returns the defaults: two workers, batches of 100, a 24h lock,
// a 5s empty wait and ten failure reports 5s apart.
func DefaultConfig() Config {
	return Config{
		WorkerID:     DefaultWorkerID,
		Workers:      2,
		BatchSize:    100,
		LockDuration: 24 * time.Hour,
		EmptyWait:    5 * time.Second,
		FailureRetry: api.FixedRetry(10, 5*time.Second),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerID == "" {
		c.WorkerID = d.WorkerID
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.EmptyWait < 0 {
		c.EmptyWait = 0
	}
	if c.FailureRetry.MaxAttempts <= 0 {
		c.FailureRetry = d.FailureRetry
	}
	return c
}

// Option customizes a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver sets the observer notified of claims, dispatches and failures.
func WithObserver(o api.Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// Pool runs Config.Workers independent claim→dispatch loops against the
// engine. Each loop claims a batch across every registered topic, converts
// each task to its command and hands it to the Sender.
type Pool struct {
	engine   api.ExternalTaskService
	registry *schema.Registry
	sender   Sender
	cfg      Config
	logger   *slog.Logger
	observer api.Observer

	// topics is built once, before any worker starts, and only read after.
	topics []api.FetchTopic

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Pool with DefaultConfig.
func New(engine api.ExternalTaskService, registry *schema.Registry, sender Sender, opts ...Option) *Pool {
	return NewWithConfig(engine, registry, sender, DefaultConfig(), opts...)
}

// NewWithConfig creates a Pool. Zero fields of cfg take their defaults.
func NewWithConfig(engine api.ExternalTaskService, registry *schema.Registry, sender Sender, cfg Config, opts ...Option) *Pool {
	p := &Pool{
		engine:   engine,
		registry: registry,
		sender:   sender,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		observer: api.NoopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Topics returns the claim topics. They are computed from the registry on
// first use and fixed from then on.
func (p *Pool) Topics() []api.FetchTopic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topicsLocked()
}

func (p *Pool) topicsLocked() []api.FetchTopic {
	if p.topics == nil {
		p.topics = p.registry.Topics(p.cfg.LockDuration)
	}
	return p.topics
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyStarted
	}

	topics := p.topicsLocked()
	p.logger.InfoContext(ctx, "worker_pool_started",
		slog.String("worker_id", p.cfg.WorkerID),
		slog.Int("workers", p.cfg.Workers),
		slog.Int("topics", len(topics)),
	)

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go func(n int) {
			defer p.wg.Done()
			p.loop(ctx, n, topics)
		}(i)
	}
	return nil
}

// Stop cancels every worker and waits for all of them to exit. In-flight
// claimed tasks are left to expire at the engine.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker_pool_stopped", slog.String("worker_id", p.cfg.WorkerID))
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, n int, topics []api.FetchTopic) {
	log := p.logger.With(slog.String("worker_id", p.cfg.WorkerID), slog.Int("worker", n))
	log.DebugContext(ctx, "worker_started")

	for {
		claimed, err := p.cycle(ctx, topics)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// Failure reporting gave up: only this worker stops.
			log.ErrorContext(ctx, "worker_stopped_on_error", slog.Any("error", err))
			return
		}
		if claimed == 0 {
			if err := retry.Sleep(ctx, p.cfg.EmptyWait); err != nil {
				break
			}
		}
	}
	log.DebugContext(ctx, "worker_stopped")
}

// RunOnce performs a single claim cycle and returns the number of tasks
// claimed. A claim error counts as an empty cycle. The returned error is
// non-nil only when reporting a task failure was exhausted or ctx ended.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	return p.cycle(ctx, p.Topics())
}

func (p *Pool) cycle(ctx context.Context, topics []api.FetchTopic) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(topics) == 0 {
		return 0, nil
	}

	tasks, err := p.engine.FetchAndLock(ctx, api.FetchRequest{
		WorkerID:    p.cfg.WorkerID,
		MaxTasks:    p.cfg.BatchSize,
		UsePriority: p.cfg.UsePriority,
		Topics:      topics,
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.logger.WarnContext(ctx, "task_claim_failed",
			slog.String("worker_id", p.cfg.WorkerID),
			slog.Any("error", err),
		)
		return 0, nil
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	p.observer.OnTasksClaimed(ctx, p.cfg.WorkerID, len(tasks))

	for _, task := range tasks {
		if err := p.dispatch(ctx, task); err != nil {
			p.observer.OnDispatchFailed(ctx, task.TopicName, task.ID, err)
			if ferr := p.reportFailure(ctx, task, err); ferr != nil {
				return len(tasks), ferr
			}
			continue
		}
		p.observer.OnTaskDispatched(ctx, task.TopicName, task.ID)
	}
	return len(tasks), nil
}

// dispatch converts task and sends it. A panic while doing so is turned into
// an error so it is reported like any other dispatch failure.
func (p *Pool) dispatch(ctx context.Context, task api.LockedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch task %s panicked: %v", task.ID, r)
		}
	}()

	cmd, err := p.registry.ToCommand(task)
	if err != nil {
		return err
	}
	return p.sender.Send(ctx, cmd)
}

func (p *Pool) reportFailure(ctx context.Context, task api.LockedTask, cause error) error {
	req := api.FailureRequest{
		WorkerID:     p.cfg.WorkerID,
		ErrorMessage: cause.Error(),
	}
	err := retry.Do(ctx, p.cfg.FailureRetry, func(ctx context.Context, attempt int) error {
		err := p.engine.Fail(ctx, task.ID, req)
		p.observer.OnFailureReported(ctx, task.ID, attempt, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("report failure of task %s: %w", task.ID, err)
	}
	return nil
}
