package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/telemetry"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/schema"
	"github.com/petrijr/taskdispatch/pkg/transport"
)

// CompletionListener turns outcome messages into engine complete and fail
// calls.
type CompletionListener struct {
	engine   api.ExternalTaskService
	registry *schema.Registry
	broker   broker.Broker
	dlq      string
	opts     options
}

// Ensure CompletionListener implements transport.Handler.
var _ transport.Handler = (*CompletionListener)(nil)

// NewCompletionListener returns a listener that dead-letters to dlq on b.
func NewCompletionListener(engine api.ExternalTaskService, registry *schema.Registry, b broker.Broker, dlq string, opts ...Option) *CompletionListener {
	return &CompletionListener{
		engine:   engine,
		registry: registry,
		broker:   b,
		dlq:      dlq,
		opts:     newOptions(opts),
	}
}

// Handle applies one outcome message. Any failure to decode, route or apply
// it moves the message to the dead-letter queue.
func (l *CompletionListener) Handle(ctx context.Context, msg broker.Message) (err error) {
	ctx = telemetry.ExtractHeaders(ctx, msg.Headers)
	ctx, span := telemetry.Start(ctx, "listener.completion")
	defer func() { telemetry.End(span, err) }()

	name := msg.Header(l.opts.typeHeader)
	if name == "" && len(msg.Body) == 0 {
		l.opts.logger.WarnContext(ctx, "message_skipped",
			slog.String("message_id", msg.ID),
			slog.String("reason", "empty body without type header"),
		)
		return nil
	}

	if cause := l.apply(ctx, name, msg); cause != nil {
		return deadLetter(ctx, l.broker, l.dlq, msg, l.opts, cause)
	}
	return nil
}

func (l *CompletionListener) apply(ctx context.Context, name string, msg broker.Message) error {
	cmd, err := decode(l.registry.LookupTask, l.opts.mapper, name, msg.Body)
	if err != nil {
		return err
	}
	env, err := api.EnvelopeFromHeaders(l.opts.typeHeader, msg.Headers, msg.Body)
	if err != nil {
		return fmt.Errorf("listener: %s: %w", name, err)
	}

	var taskID string
	switch env.Status {
	case api.StatusComplete:
		var req api.CompleteRequest
		taskID, req, err = l.registry.ToCompleteRequest(cmd)
		if err != nil {
			return err
		}
		err = l.engine.Complete(ctx, taskID, req)
	case api.StatusFail:
		var req api.FailureRequest
		taskID, req, err = l.registry.ToFailureRequest(cmd)
		if err != nil {
			return err
		}
		// Values set by the processor win over the envelope.
		if req.ErrorMessage == "" {
			req.ErrorMessage = env.Reason
		}
		if req.ErrorDetails == "" {
			req.ErrorDetails = env.Detail
		}
		err = l.engine.Fail(ctx, taskID, req)
	}
	if err != nil {
		return fmt.Errorf("listener: %s task %s: %w", env.Status, taskID, err)
	}

	l.opts.logger.InfoContext(ctx, "outcome_applied",
		slog.String("type", name),
		slog.String("task_id", taskID),
		slog.String("status", string(env.Status)),
	)
	l.opts.observer.OnOutcomeApplied(ctx, name, taskID, env.Status)
	return nil
}
