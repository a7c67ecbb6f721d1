package transport

import (
	"log/slog"

	"github.com/petrijr/taskdispatch/pkg/api"
)

type options struct {
	typeHeader  string
	errorHeader string
	logger      *slog.Logger
	observer    api.Observer
}

func newOptions(opts []Option) options {
	o := options{
		typeHeader:  api.DefaultTypeHeader,
		errorHeader: api.DefaultErrorHeader,
		logger:      slog.Default(),
		observer:    api.NoopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option customizes senders, receivers and containers.
type Option func(*options)

// WithTypeHeader sets the header carrying the command type name.
func WithTypeHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.typeHeader = name
		}
	}
}

// WithErrorHeader sets the header carrying the error description of a
// dead-lettered message.
func WithErrorHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.errorHeader = name
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

// WithObserver sets the observer notified of dead-lettered messages.
func WithObserver(obs api.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
