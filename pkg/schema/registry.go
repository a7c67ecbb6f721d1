package schema

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/variable"
)

// Catalog is a named group of command and signal types to register. Types
// are given as zero values or nil pointers, e.g. Simple{} or (*Simple)(nil).
type Catalog struct {
	Name  string
	Types []any
}

// NewCatalog is a shorthand for Catalog{Name: name, Types: types}.
func NewCatalog(name string, types ...any) Catalog {
	return Catalog{Name: name, Types: types}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report excluded types.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCodec sets the codec used to decode task variables. The default codec
// ships the JSON, gob and raw JVM object decoders.
func WithCodec(c *variable.Codec) Option {
	return func(r *Registry) {
		if c != nil {
			r.codec = c
		}
	}
}

// WithCustomTags declares application tag items that map to variables.
func WithCustomTags(tags ...CustomTag) Option {
	return func(r *Registry) {
		for _, t := range tags {
			if t.Name == "" || IsReserved(t.Name) || t.Name == tagVar {
				r.logger.Warn("custom_tag_ignored", slog.String("tag", t.Name))
				continue
			}
			r.custom[t.Name] = t
		}
	}
}

// Registry holds the metadata of every registered task and signal type. It is
// safe for concurrent use; after startup it is only read.
type Registry struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	codec   *variable.Codec
	custom  map[string]CustomTag
	tasks   map[string]*EntityMetadata
	signals map[string]*EntityMetadata
	byType  map[reflect.Type]*EntityMetadata
	seen    map[reflect.Type]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		codec:   variable.NewCodec(),
		custom:  make(map[string]CustomTag),
		tasks:   make(map[string]*EntityMetadata),
		signals: make(map[string]*EntityMetadata),
		byType:  make(map[reflect.Type]*EntityMetadata),
		seen:    make(map[reflect.Type]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register resolves every type of every catalog. It is idempotent: a type
// already inspected is skipped. Types that declare neither a task nor a
// signal name, lack a required tagged field, or carry conflicting tags are
// logged and left out; Register itself never fails.
func (r *Registry) Register(catalogs ...Catalog) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range catalogs {
		r.logger.Info("catalog_register", slog.String("catalog", c.Name), slog.Int("types", len(c.Types)))
		for _, v := range c.Types {
			r.registerLocked(c.Name, v)
		}
	}
}

func (r *Registry) registerLocked(catalog string, v any) {
	if v == nil {
		r.logger.Warn("type_excluded", slog.String("catalog", catalog), slog.String("reason", "nil value"))
		return
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if _, done := r.seen[t]; done {
		return
	}
	r.seen[t] = struct{}{}

	name, kind, ok := TypeName(t)
	if !ok {
		r.logger.Warn("type_excluded",
			slog.String("catalog", catalog),
			slog.String("type", t.String()),
			slog.String("reason", "declares neither TaskName nor SignalName"),
		)
		return
	}

	target := r.tasks
	if kind == KindSignal {
		target = r.signals
	}
	if prev, dup := target[name]; dup {
		r.logger.Warn("type_excluded",
			slog.String("catalog", catalog),
			slog.String("type", t.String()),
			slog.String("reason", fmt.Sprintf("%s name %q already used by %s", kind, name, prev.Type)),
		)
		return
	}

	meta, err := build(name, kind, t, r.custom)
	if err != nil {
		r.logger.Warn("type_excluded",
			slog.String("catalog", catalog),
			slog.String("type", t.String()),
			slog.String("reason", err.Error()),
		)
		return
	}

	target[name] = meta
	r.byType[t] = meta
	r.logger.Debug("type_registered",
		slog.String("catalog", catalog),
		slog.String("name", name),
		slog.String("kind", kind.String()),
		slog.Int("fields", len(meta.fields)),
	)
}

// Lookup returns the metadata registered under name, tasks first.
func (r *Registry) Lookup(name string) (*EntityMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.tasks[name]; ok {
		return m, nil
	}
	if m, ok := r.signals[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// LookupTask returns the metadata of the task named name.
func (r *Registry) LookupTask(name string) (*EntityMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.tasks[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: task %q", ErrNotFound, name)
}

// LookupSignal returns the metadata of the signal named name.
func (r *Registry) LookupSignal(name string) (*EntityMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.signals[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: signal %q", ErrNotFound, name)
}

// MetadataOf returns the metadata of v's type. v may be a value or a pointer.
func (r *Registry) MetadataOf(v any) (*EntityMetadata, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrNotFound)
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byType[t]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: type %s", ErrNotFound, t)
}

// TaskNames returns the registered task names, sorted.
func (r *Registry) TaskNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tasks)
}

// SignalNames returns the registered signal names, sorted.
func (r *Registry) SignalNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.signals)
}

// Topics builds the fetch-and-lock topic list: one topic per task, requesting
// the task's free variables, sorted by topic name.
func (r *Registry) Topics(lockDuration time.Duration) []api.FetchTopic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := sortedKeys(r.tasks)
	topics := make([]api.FetchTopic, 0, len(names))
	for _, name := range names {
		topics = append(topics, api.FetchTopic{
			TopicName:    name,
			LockDuration: lockDuration.Milliseconds(),
			Variables:    r.tasks[name].FreeVariables(),
		})
	}
	return topics
}

func sortedKeys(m map[string]*EntityMetadata) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
