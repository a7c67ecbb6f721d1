package taskdispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/engine"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/listener"
	"github.com/petrijr/taskdispatch/pkg/mapper"
	"github.com/petrijr/taskdispatch/pkg/schema"
	"github.com/petrijr/taskdispatch/pkg/transport"
	"github.com/petrijr/taskdispatch/pkg/worker"
)

// ErrAlreadyStarted is returned by Start on a running Dispatcher.
var ErrAlreadyStarted = errors.New("taskdispatch: dispatcher already started")

// Queues names the queues a Dispatcher reads and writes.
type Queues struct {
	// Commands carries claimed commands to business processors.
	Commands string
	// Outcomes carries COMPLETE and FAIL outcomes to the completion listener.
	Outcomes string
	// Signals carries signal objects to the signal listener.
	Signals string

	OutcomeDLQ string
	SignalDLQ  string
	CommandDLQ string
}

// DefaultQueues returns the standard queue names.
func DefaultQueues() Queues {
	return Queues{
		Commands:   "dispatcherOut",
		Outcomes:   "dispatcherIn",
		Signals:    "dispatcherSignalIn",
		OutcomeDLQ: "dispatcherDLQ",
		SignalDLQ:  "dispatcherSignalDLQ",
		CommandDLQ: "dispatcherCommandDLQ",
	}
}

// Config configures a Dispatcher.
type Config struct {
	Worker worker.Config
	Queues Queues

	TypeHeader  string
	ErrorHeader string

	SignalRetry listener.SignalRetry

	// Concurrency is the number of consumers per queue.
	Concurrency int

	// CommandMaxDeliveries dead-letters a command whose processors failed
	// this many times. Zero redelivers forever.
	CommandMaxDeliveries int

	// RedeliveryDelay is the pause before a failed message is retried.
	RedeliveryDelay time.Duration
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Worker:      worker.DefaultConfig(),
		Queues:      DefaultQueues(),
		TypeHeader:  api.DefaultTypeHeader,
		ErrorHeader: api.DefaultErrorHeader,
		SignalRetry: listener.SignalRetry{
			Header: api.DefaultRetryHeader,
			Max:    3,
			Delay:  10 * time.Second,
		},
		Concurrency:          1,
		CommandMaxDeliveries: 5,
		RedeliveryDelay:      time.Second,
	}
}

type options struct {
	logger   *slog.Logger
	observer api.Observer
	mapper   mapper.Mapper
}

// Option customizes a Dispatcher.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the observer handed to every component.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithMapper sets the message body format. The default is JSON.
func WithMapper(m mapper.Mapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapper = m
		}
	}
}

// Dispatcher wires the worker pool, the transport and the listeners around
// one registry, one engine and one broker.
//
// Typical usage:
//
//	d := taskdispatch.New(registry, engine, broker, taskdispatch.DefaultConfig())
//	taskdispatch.Handle(d, func(ctx context.Context, cmd *Invoice) error {
//		return d.Completer().Complete(ctx, cmd)
//	})
//	_ = d.Start(ctx)
//	...
//	d.Stop()
type Dispatcher struct {
	registry *schema.Registry
	engine   api.Engine
	broker   broker.Broker
	cfg      Config
	logger   *slog.Logger

	pool       *worker.Pool
	processors *transport.ProcessorRegistry
	completer  *transport.Completer
	signals    *transport.SignalPublisher
	containers []*transport.Container

	mu      sync.Mutex
	running bool
}

// New builds a stopped Dispatcher. Zero fields of cfg.Queues take their
// default names.
func New(registry *Registry, eng Engine, b Broker, cfg Config, opts ...Option) *Dispatcher {
	o := options{logger: slog.Default(), observer: api.NoopObserver{}, mapper: mapper.JSON{}}
	for _, opt := range opts {
		opt(&o)
	}
	cfg.Queues = cfg.Queues.withDefaults()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	topts := []transport.Option{
		transport.WithTypeHeader(cfg.TypeHeader),
		transport.WithErrorHeader(cfg.ErrorHeader),
		transport.WithLogger(o.logger),
		transport.WithObserver(o.observer),
	}
	lopts := []listener.Option{
		listener.WithTypeHeader(cfg.TypeHeader),
		listener.WithErrorHeader(cfg.ErrorHeader),
		listener.WithMapper(o.mapper),
		listener.WithLogger(o.logger),
		listener.WithObserver(o.observer),
	}

	commands := transport.NewSender(b, registry, o.mapper, cfg.Queues.Commands, topts...)
	outcomes := transport.NewSender(b, registry, o.mapper, cfg.Queues.Outcomes, topts...)
	signals := transport.NewSender(b, registry, o.mapper, cfg.Queues.Signals, topts...)

	d := &Dispatcher{
		registry:   registry,
		engine:     eng,
		broker:     b,
		cfg:        cfg,
		logger:     o.logger,
		processors: transport.NewProcessorRegistry(o.logger),
		completer:  transport.NewCompleter(outcomes, registry),
		signals:    transport.NewSignalPublisher(signals, registry),
	}
	d.pool = worker.NewWithConfig(eng, registry,
		worker.SenderFunc(func(ctx context.Context, cmd any) error { return commands.Send(ctx, cmd) }),
		cfg.Worker, worker.WithLogger(o.logger), worker.WithObserver(o.observer))

	consumer := transport.ContainerConfig{
		Concurrency:     cfg.Concurrency,
		RedeliveryDelay: cfg.RedeliveryDelay,
	}
	commandConsumer := consumer
	commandConsumer.MaxDeliveries = cfg.CommandMaxDeliveries
	commandConsumer.DeadLetterQueue = cfg.Queues.CommandDLQ

	d.containers = []*transport.Container{
		transport.NewContainer(b, cfg.Queues.Outcomes,
			listener.NewCompletionListener(eng, registry, b, cfg.Queues.OutcomeDLQ, lopts...),
			consumer, topts...),
		transport.NewContainer(b, cfg.Queues.Signals,
			listener.NewSignalListener(eng, registry, b, cfg.Queues.Signals, cfg.Queues.SignalDLQ, cfg.SignalRetry, lopts...),
			consumer, topts...),
		transport.NewContainer(b, cfg.Queues.Commands,
			transport.NewReceiver(d.processors, o.mapper, topts...),
			commandConsumer, topts...),
	}
	return d
}

// NewLocal builds a Dispatcher on an in-memory engine and broker, for
// development and tests. The engine is returned so tasks and signal
// subscriptions can be added to it.
func NewLocal(registry *Registry, cfg Config, opts ...Option) (*Dispatcher, *engine.MemoryEngine) {
	eng := engine.NewMemoryEngine()
	return New(registry, eng, broker.NewMemoryBroker(), cfg, opts...), eng
}

func (q Queues) withDefaults() Queues {
	d := DefaultQueues()
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&q.Commands, d.Commands)
	set(&q.Outcomes, d.Outcomes)
	set(&q.Signals, d.Signals)
	set(&q.OutcomeDLQ, d.OutcomeDLQ)
	set(&q.SignalDLQ, d.SignalDLQ)
	set(&q.CommandDLQ, d.CommandDLQ)
	return q
}

// Handle registers fn as a processor for commands of type T.
func Handle[T any](d *Dispatcher, fn func(ctx context.Context, cmd *T) error) bool {
	return transport.Handle(d.processors, fn)
}

// Registry returns the metadata registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Engine returns the engine client.
func (d *Dispatcher) Engine() Engine { return d.engine }

// Broker returns the broker.
func (d *Dispatcher) Broker() Broker { return d.broker }

// Config returns the configuration with defaults applied.
func (d *Dispatcher) Config() Config { return d.cfg }

// Pool returns the polling worker pool.
func (d *Dispatcher) Pool() *worker.Pool { return d.pool }

// Completer returns the outcome reporter for business processors.
func (d *Dispatcher) Completer() *transport.Completer { return d.completer }

// Signals returns the signal publisher.
func (d *Dispatcher) Signals() *transport.SignalPublisher { return d.signals }

// Start starts the consumers and then the worker pool. Everything runs
// until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyStarted
	}

	for i, c := range d.containers {
		if err := c.Start(ctx); err != nil {
			for _, started := range d.containers[:i] {
				started.Stop()
			}
			return fmt.Errorf("taskdispatch: start consumer of %s: %w", c.Queue(), err)
		}
	}
	if err := d.pool.Start(ctx); err != nil {
		for _, c := range d.containers {
			c.Stop()
		}
		return fmt.Errorf("taskdispatch: start worker pool: %w", err)
	}
	d.running = true

	d.logger.InfoContext(ctx, "dispatcher_started",
		slog.Any("topics", d.registry.TaskNames()),
		slog.Any("signals", d.registry.SignalNames()),
		slog.Any("processors", d.processors.Names()),
	)
	return nil
}

// Stop stops the worker pool first, so no new commands are produced, and
// then the consumers. It waits for all of them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.pool.Stop()
	for i := len(d.containers) - 1; i >= 0; i-- {
		d.containers[i].Stop()
	}
	d.logger.Info("dispatcher_stopped")
}
