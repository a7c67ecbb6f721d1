package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/retry"
)

// ErrAlreadyStarted is returned by Start on a running container.
var ErrAlreadyStarted = errors.New("transport: container already started")

// ContainerConfig controls a consumer container.
type ContainerConfig struct {
	// Concurrency is the number of consumer goroutines.
	Concurrency int

	// MaxDeliveries moves a message to DeadLetterQueue once it has been
	// delivered this many times without success. Zero redelivers forever.
	MaxDeliveries int

	// DeadLetterQueue receives messages that exhausted MaxDeliveries.
	DeadLetterQueue string

	// RedeliveryDelay is the pause before a failed message is delivered
	// again.
	RedeliveryDelay time.Duration

	// ErrorBackoff is the pause after the broker itself fails.
	ErrorBackoff time.Duration
}

func (c ContainerConfig) withDefaults() ContainerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	return c
}

// Container consumes one queue with a fixed pool of goroutines. Each
// message is processed in its own lease: it is acked when the handler
// returns nil and nacked otherwise.
type Container struct {
	broker  broker.Broker
	queue   string
	handler Handler
	cfg     ContainerConfig
	opts    options

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewContainer returns a stopped container.
func NewContainer(b broker.Broker, queue string, h Handler, cfg ContainerConfig, opts ...Option) *Container {
	return &Container{
		broker:  b,
		queue:   queue,
		handler: h,
		cfg:     cfg.withDefaults(),
		opts:    newOptions(opts),
	}
}

// Queue returns the consumed queue.
func (c *Container) Queue() string { return c.queue }

// Start launches the consumers.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func() {
			defer c.wg.Done()
			c.consume(ctx)
		}()
	}
	c.opts.logger.InfoContext(ctx, "container_started",
		slog.String("queue", c.queue),
		slog.Int("concurrency", c.cfg.Concurrency),
	)
	return nil
}

// Stop cancels the consumers and waits for them to exit. A message being
// handled when Stop is called is not acked and will be redelivered.
func (c *Container) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.opts.logger.Info("container_stopped", slog.String("queue", c.queue))
}

func (c *Container) consume(ctx context.Context) {
	for {
		d, err := c.broker.Receive(ctx, c.queue)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
				return
			}
			c.opts.logger.ErrorContext(ctx, "receive_failed",
				slog.String("queue", c.queue),
				slog.Any("error", err),
			)
			if retry.Sleep(ctx, c.cfg.ErrorBackoff) != nil {
				return
			}
			continue
		}
		_ = c.process(ctx, d)
	}
}

// Process runs the handler on d and settles the delivery. It is exported
// for callers that drive a broker themselves.
func (c *Container) Process(ctx context.Context, d *broker.Delivery) error {
	return c.process(ctx, d)
}

func (c *Container) process(ctx context.Context, d *broker.Delivery) error {
	err := c.handle(ctx, d.Message)
	// Settle even when Stop cancelled ctx mid-handler.
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		return c.settle(ctx, d, c.broker.Ack(ctx, d))
	}

	log := c.opts.logger.With(
		slog.String("queue", c.queue),
		slog.String("message_id", d.ID),
		slog.Int("attempts", d.Attempts),
	)

	if c.cfg.MaxDeliveries > 0 && d.Attempts >= c.cfg.MaxDeliveries && c.cfg.DeadLetterQueue != "" {
		if dlqErr := DeadLetter(ctx, c.broker, c.cfg.DeadLetterQueue, d.Message, c.opts.errorHeader, err); dlqErr != nil {
			log.ErrorContext(ctx, "dead_letter_failed", slog.Any("error", dlqErr), slog.Any("cause", err))
			return c.settle(ctx, d, c.broker.Nack(ctx, d, c.cfg.RedeliveryDelay))
		}
		c.opts.observer.OnDeadLettered(ctx, c.cfg.DeadLetterQueue, d.Header(c.opts.typeHeader), err)
		return c.settle(ctx, d, c.broker.Ack(ctx, d))
	}

	log.WarnContext(ctx, "message_redelivered", slog.Any("error", err))
	return c.settle(ctx, d, c.broker.Nack(ctx, d, c.cfg.RedeliveryDelay))
}

// handle runs the handler, turning a panic into an error.
func (c *Container) handle(ctx context.Context, msg broker.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport: handler panicked: %v", r)
		}
	}()
	return c.handler.Handle(ctx, msg)
}

func (c *Container) settle(ctx context.Context, d *broker.Delivery, err error) error {
	if err != nil {
		c.opts.logger.ErrorContext(ctx, "settle_failed",
			slog.String("queue", c.queue),
			slog.String("message_id", d.ID),
			slog.Any("error", err),
		)
	}
	return err
}
