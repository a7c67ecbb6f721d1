package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/telemetry"
	"github.com/petrijr/taskdispatch/pkg/mapper"
)

// Handler processes one received message. A nil return commits it.
type Handler interface {
	Handle(ctx context.Context, msg broker.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg broker.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg broker.Message) error { return f(ctx, msg) }

// Receiver decodes command messages and dispatches them to the processors
// registered for their type name.
type Receiver struct {
	processors *ProcessorRegistry
	mapper     mapper.Mapper
	opts       options
}

// NewReceiver returns a Receiver. A nil mapper selects JSON.
func NewReceiver(processors *ProcessorRegistry, m mapper.Mapper, opts ...Option) *Receiver {
	if m == nil {
		m = mapper.JSON{}
	}
	return &Receiver{processors: processors, mapper: m, opts: newOptions(opts)}
}

// Ensure Receiver implements Handler.
var _ Handler = (*Receiver)(nil)

// Handle decodes msg once per processor, so processors never share a
// command value, and runs them in registration order. Messages without a
// body and type, or with a type nobody handles, are dropped without error.
// Processor errors are joined and returned.
func (r *Receiver) Handle(ctx context.Context, msg broker.Message) (err error) {
	ctx = telemetry.ExtractHeaders(ctx, msg.Headers)
	name := msg.Header(r.opts.typeHeader)

	ctx, span := telemetry.Start(ctx, "transport.receive")
	defer func() { telemetry.End(span, err) }()

	if name == "" {
		if len(msg.Body) == 0 {
			r.opts.logger.WarnContext(ctx, "message_skipped",
				slog.String("message_id", msg.ID),
				slog.String("reason", "empty body without type header"),
			)
			return nil
		}
		r.opts.logger.WarnContext(ctx, "message_dropped",
			slog.String("message_id", msg.ID),
			slog.String("reason", "missing type header"),
		)
		return nil
	}

	procs := r.processors.processors(name)
	if len(procs) == 0 {
		r.opts.logger.InfoContext(ctx, "message_dropped",
			slog.String("message_id", msg.ID),
			slog.String("type", name),
			slog.String("reason", "no processor registered"),
		)
		return nil
	}

	var errs []error
	for _, p := range procs {
		cmd := reflect.New(p.typ)
		if err := r.mapper.Unmarshal(msg.Body, cmd.Interface()); err != nil {
			return fmt.Errorf("transport: decode %s: %w", name, err)
		}
		if err := p.fn(ctx, cmd.Interface()); err != nil {
			errs = append(errs, fmt.Errorf("transport: process %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
