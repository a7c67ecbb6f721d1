package taskdispatch

import (
	"context"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/engine"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/schema"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Status               = api.Status
	RetryPolicy          = api.RetryPolicy
	RestError            = api.RestError
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Registry = schema.Registry
	Catalog  = schema.Catalog

	Broker  = broker.Broker
	Message = broker.Message
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	FixedRetry           = api.FixedRetry
	IsNotFound           = api.IsNotFound
	NewCatalog           = schema.NewCatalog
)

// Re-export outcome statuses.

const (
	StatusComplete = api.StatusComplete
	StatusFail     = api.StatusFail
)

// Broker kinds accepted by OpenBroker.
const (
	BrokerMemory   = broker.KindMemory
	BrokerSQLite   = broker.KindSQLite
	BrokerPostgres = broker.KindPostgres
	BrokerRedis    = broker.KindRedis
	BrokerMongo    = broker.KindMongo
)

// NewRegistry returns an empty metadata registry.
func NewRegistry(opts ...schema.Option) *Registry {
	return schema.NewRegistry(opts...)
}

// NewRESTEngine returns an engine client for the REST API rooted at baseURL.
func NewRESTEngine(baseURL string, opts ...engine.RESTOption) Engine {
	return engine.NewRESTClient(baseURL, opts...)
}

// WithBasicAuth authenticates REST engine calls.
func WithBasicAuth(username, password string) engine.RESTOption {
	return engine.WithBasicAuth(username, password)
}

// NewMemoryEngine returns an in-process engine for tests and local runs.
func NewMemoryEngine() *engine.MemoryEngine {
	return engine.NewMemoryEngine()
}

// NewMemoryBroker returns an in-process broker.
func NewMemoryBroker() Broker {
	return broker.NewMemoryBroker()
}

// OpenBroker connects to the broker backend kind at dsn. The caller closes
// it.
func OpenBroker(ctx context.Context, kind, dsn string) (Broker, error) {
	return broker.Open(ctx, kind, dsn)
}
