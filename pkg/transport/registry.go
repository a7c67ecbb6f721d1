package transport

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/petrijr/taskdispatch/pkg/schema"
)

type processor struct {
	typ reflect.Type
	fn  func(ctx context.Context, cmd any) error
}

// ProcessorRegistry maps command type names to the business processors
// registered for them.
type ProcessorRegistry struct {
	mu     sync.RWMutex
	byName map[string][]processor
	logger *slog.Logger
}

// NewProcessorRegistry returns an empty registry. A nil logger selects
// slog.Default().
func NewProcessorRegistry(logger *slog.Logger) *ProcessorRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessorRegistry{byName: make(map[string][]processor), logger: logger}
}

// Handle registers fn for commands of type T. T must declare a task or
// signal name; otherwise the processor is logged and skipped and Handle
// reports false.
func Handle[T any](r *ProcessorRegistry, fn func(ctx context.Context, cmd *T) error) bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	name, _, ok := schema.TypeName(t)
	if !ok {
		r.logger.Warn("processor_skipped",
			slog.String("type", t.String()),
			slog.String("reason", "command type declares no task name"),
		)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = append(r.byName[name], processor{
		typ: t,
		fn: func(ctx context.Context, cmd any) error {
			return fn(ctx, cmd.(*T))
		},
	})
	r.logger.Debug("processor_registered", slog.String("type", name))
	return true
}

// Names returns the type names that have processors, sorted.
func (r *ProcessorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *ProcessorRegistry) processors(name string) []processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}
