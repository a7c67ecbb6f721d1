package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/mapper"
	"github.com/petrijr/taskdispatch/pkg/schema"
	"github.com/petrijr/taskdispatch/pkg/transport"
)

type options struct {
	typeHeader  string
	errorHeader string
	mapper      mapper.Mapper
	logger      *slog.Logger
	observer    api.Observer
}

func newOptions(opts []Option) options {
	o := options{
		typeHeader:  api.DefaultTypeHeader,
		errorHeader: api.DefaultErrorHeader,
		mapper:      mapper.JSON{},
		logger:      slog.Default(),
		observer:    api.NoopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option customizes a listener.
type Option func(*options)

// WithTypeHeader sets the header carrying the type name.
func WithTypeHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.typeHeader = name
		}
	}
}

// WithErrorHeader sets the header carrying the error description on
// dead-lettered messages.
func WithErrorHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.errorHeader = name
		}
	}
}

// WithMapper sets the body format. The default is JSON.
func WithMapper(m mapper.Mapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapper = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the observer.
func WithObserver(obs api.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// decode instantiates the type registered under name and fills it from body.
func decode(lookup func(string) (*schema.EntityMetadata, error), m mapper.Mapper, name string, body []byte) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("listener: message has no type header")
	}
	meta, err := lookup(name)
	if err != nil {
		return nil, err
	}
	v := meta.New()
	if err := m.Unmarshal(body, v.Interface()); err != nil {
		return nil, fmt.Errorf("listener: decode %s: %w", name, err)
	}
	return v.Interface(), nil
}

// deadLetter moves msg to queue and reports it. The returned error is only
// set when the dead-letter publish itself failed.
func deadLetter(ctx context.Context, b broker.Broker, queue string, msg broker.Message, o options, cause error) error {
	name := msg.Header(o.typeHeader)
	if err := transport.DeadLetter(ctx, b, queue, msg, o.errorHeader, cause); err != nil {
		o.logger.ErrorContext(ctx, "dead_letter_failed",
			slog.String("queue", queue),
			slog.String("type", name),
			slog.Any("error", err),
			slog.Any("cause", cause),
		)
		return err
	}
	o.logger.ErrorContext(ctx, "message_dead_lettered",
		slog.String("queue", queue),
		slog.String("type", name),
		slog.String("message_id", msg.ID),
		slog.Any("error", cause),
	)
	o.observer.OnDeadLettered(ctx, queue, name, cause)
	return nil
}
