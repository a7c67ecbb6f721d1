package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/telemetry"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/mapper"
	"github.com/petrijr/taskdispatch/pkg/schema"
)

// SendOption sets an outcome field of a sent message.
type SendOption func(*api.Envelope)

// WithStatus marks the message as an outcome.
func WithStatus(s api.Status) SendOption {
	return func(e *api.Envelope) { e.Status = s }
}

// WithReason sets the failure reason. It is only sent with StatusFail.
func WithReason(reason string) SendOption {
	return func(e *api.Envelope) { e.Reason = reason }
}

// WithDetail sets the failure detail. It is only sent with StatusFail.
func WithDetail(detail string) SendOption {
	return func(e *api.Envelope) { e.Detail = detail }
}

// Sender serializes commands and publishes them to one queue.
type Sender struct {
	broker   broker.Broker
	registry *schema.Registry
	mapper   mapper.Mapper
	queue    string
	opts     options
}

// NewSender returns a Sender publishing to queue. A nil mapper selects JSON.
func NewSender(b broker.Broker, registry *schema.Registry, m mapper.Mapper, queue string, opts ...Option) *Sender {
	if m == nil {
		m = mapper.JSON{}
	}
	return &Sender{broker: b, registry: registry, mapper: m, queue: queue, opts: newOptions(opts)}
}

// Queue returns the destination queue.
func (s *Sender) Queue() string { return s.queue }

// Send publishes cmd with its type header and any non-empty outcome headers.
func (s *Sender) Send(ctx context.Context, cmd any, opts ...SendOption) (err error) {
	ctx, span := telemetry.Start(ctx, "transport.send")
	defer func() { telemetry.End(span, err) }()

	name, err := s.typeName(cmd)
	if err != nil {
		return err
	}
	body, err := s.mapper.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("transport: serialize %s: %w", name, err)
	}

	env := api.Envelope{TypeName: name, Body: body}
	for _, opt := range opts {
		opt(&env)
	}
	headers := env.Headers(s.opts.typeHeader)
	telemetry.InjectHeaders(ctx, headers)

	if err := s.broker.Publish(ctx, s.queue, broker.NewMessage(body, headers)); err != nil {
		return fmt.Errorf("transport: publish %s to %s: %w", name, s.queue, err)
	}
	s.opts.logger.DebugContext(ctx, "message_sent",
		slog.String("queue", s.queue),
		slog.String("type", name),
		slog.String("status", string(env.Status)),
	)
	return nil
}

func (s *Sender) typeName(cmd any) (string, error) {
	if s.registry != nil {
		if meta, err := s.registry.MetadataOf(cmd); err == nil {
			return meta.Name, nil
		}
	}
	if name, ok := schema.NameOf(cmd); ok {
		return name, nil
	}
	return "", fmt.Errorf("transport: %T declares no task or signal name", cmd)
}
