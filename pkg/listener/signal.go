package listener

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/telemetry"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/schema"
	"github.com/petrijr/taskdispatch/pkg/transport"
)

// SignalRetry bounds the requeueing of signals the engine rejected.
// Requeueing is disabled when Header is empty or Max is not positive.
type SignalRetry struct {
	// Header carries the number of requeues a message went through.
	Header string

	// Max is the number of requeues before the message is dead-lettered.
	Max int

	// Delay schedules each requeued message. Zero requeues immediately.
	Delay time.Duration
}

// Enabled reports whether failed signals are requeued.
func (r SignalRetry) Enabled() bool {
	return r.Header != "" && r.Max > 0
}

// SignalListener fires signal messages at the engine.
type SignalListener struct {
	engine   api.SignalService
	registry *schema.Registry
	broker   broker.Broker
	queue    string
	dlq      string
	retry    SignalRetry
	opts     options
}

// Ensure SignalListener implements transport.Handler.
var _ transport.Handler = (*SignalListener)(nil)

// NewSignalListener returns a listener requeueing to queue, the queue it
// consumes, and dead-lettering to dlq.
func NewSignalListener(engine api.SignalService, registry *schema.Registry, b broker.Broker, queue, dlq string, retry SignalRetry, opts ...Option) *SignalListener {
	return &SignalListener{
		engine:   engine,
		registry: registry,
		broker:   b,
		queue:    queue,
		dlq:      dlq,
		retry:    retry,
		opts:     newOptions(opts),
	}
}

// Handle fires one signal. An engine rejection is requeued while the retry
// budget lasts; every other failure, and a rejection past the budget, is
// dead-lettered.
func (l *SignalListener) Handle(ctx context.Context, msg broker.Message) (err error) {
	ctx = telemetry.ExtractHeaders(ctx, msg.Headers)
	ctx, span := telemetry.Start(ctx, "listener.signal")
	defer func() { telemetry.End(span, err) }()

	name := msg.Header(l.opts.typeHeader)
	if name == "" && len(msg.Body) == 0 {
		l.opts.logger.WarnContext(ctx, "message_skipped",
			slog.String("message_id", msg.ID),
			slog.String("reason", "empty body without type header"),
		)
		return nil
	}

	sig, err := decode(l.registry.LookupSignal, l.opts.mapper, name, msg.Body)
	if err != nil {
		return deadLetter(ctx, l.broker, l.dlq, msg, l.opts, err)
	}
	businessKey, req, err := l.registry.ToSignalRequest(sig)
	if err != nil {
		return deadLetter(ctx, l.broker, l.dlq, msg, l.opts, err)
	}

	fireErr := l.engine.FireSignal(ctx, businessKey, req)
	if fireErr == nil {
		l.opts.logger.InfoContext(ctx, "signal_fired",
			slog.String("signal", req.Name),
			slog.String("business_key", businessKey),
		)
		l.opts.observer.OnSignalFired(ctx, req.Name, businessKey)
		return nil
	}

	l.opts.logger.WarnContext(ctx, "signal_fire_failed",
		slog.String("signal", req.Name),
		slog.String("business_key", businessKey),
		slog.Any("error", fireErr),
	)
	if !api.IsRestError(fireErr) || !l.retry.Enabled() {
		return deadLetter(ctx, l.broker, l.dlq, msg, l.opts, fireErr)
	}

	count := l.retryCount(ctx, msg)
	if count >= l.retry.Max {
		cause := fmt.Errorf("signal %s: giving up after %d retries: %w", req.Name, count, fireErr)
		return deadLetter(ctx, l.broker, l.dlq, msg, l.opts, cause)
	}
	return l.requeue(ctx, req.Name, msg, count+1)
}

// retryCount reads the retry header. A missing or malformed value counts
// as zero.
func (l *SignalListener) retryCount(ctx context.Context, msg broker.Message) int {
	raw := strings.TrimSpace(msg.Header(l.retry.Header))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		l.opts.logger.WarnContext(ctx, "retry_header_invalid",
			slog.String("header", l.retry.Header),
			slog.String("value", raw),
		)
		return 0
	}
	return n
}

func (l *SignalListener) requeue(ctx context.Context, name string, msg broker.Message, retry int) error {
	headers := broker.CopyHeaders(msg.Headers, api.HeaderScheduledDelay, api.HeaderScheduledID, l.retry.Header)
	headers[l.retry.Header] = strconv.Itoa(retry)
	if l.retry.Delay > 0 {
		headers[api.HeaderScheduledDelay] = strconv.FormatInt(l.retry.Delay.Milliseconds(), 10)
	}
	if err := l.broker.Publish(ctx, l.queue, broker.NewMessage(msg.Body, headers)); err != nil {
		return fmt.Errorf("listener: requeue signal %s: %w", name, err)
	}
	l.opts.logger.InfoContext(ctx, "signal_requeued",
		slog.String("signal", name),
		slog.Int("retry", retry),
		slog.Duration("delay", l.retry.Delay),
	)
	l.opts.observer.OnSignalRequeued(ctx, name, retry, l.retry.Delay)
	return nil
}
