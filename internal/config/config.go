// Package config loads dispatcher settings from TASKDISPATCH_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "TASKDISPATCH_"

// Config is the complete dispatcher configuration.
type Config struct {
	EngineURL      string `env:"ENGINE_URL" envDefault:"http://localhost:8080/engine-rest"`
	EngineUser     string `env:"ENGINE_USER"`
	EnginePassword string `env:"ENGINE_PASSWORD"`

	WorkerID     string        `env:"WORKER_ID" envDefault:"externalTaskProcessor"`
	Workers      int           `env:"WORKERS" envDefault:"2"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"100"`
	LockDuration time.Duration `env:"LOCK_DURATION" envDefault:"24h"`
	EmptyWait    time.Duration `env:"EMPTY_WAIT" envDefault:"5s"`
	FailAttempts int           `env:"FAIL_ATTEMPTS" envDefault:"10"`
	FailCooldown time.Duration `env:"FAIL_COOLDOWN" envDefault:"5s"`
	UsePriority  bool          `env:"USE_PRIORITY"`

	// Broker is one of memory, sqlite, postgres, redis or mongo.
	Broker    string `env:"BROKER" envDefault:"memory"`
	BrokerDSN string `env:"BROKER_DSN"`

	CommandQueue string `env:"COMMAND_QUEUE" envDefault:"dispatcherOut"`
	OutcomeQueue string `env:"OUTCOME_QUEUE" envDefault:"dispatcherIn"`
	SignalQueue  string `env:"SIGNAL_QUEUE" envDefault:"dispatcherSignalIn"`
	OutcomeDLQ   string `env:"OUTCOME_DLQ" envDefault:"dispatcherDLQ"`
	SignalDLQ    string `env:"SIGNAL_DLQ" envDefault:"dispatcherSignalDLQ"`
	CommandDLQ   string `env:"COMMAND_DLQ" envDefault:"dispatcherCommandDLQ"`

	TypeHeader  string `env:"TYPE_HEADER" envDefault:"dispatcherType"`
	ErrorHeader string `env:"ERROR_HEADER" envDefault:"dispatcherError"`
	RetryHeader string `env:"RETRY_HEADER" envDefault:"dispatcherRetry"`

	SignalRetryMax   int           `env:"SIGNAL_RETRY_MAX" envDefault:"3"`
	SignalRetryDelay time.Duration `env:"SIGNAL_RETRY_DELAY" envDefault:"10s"`

	Concurrency          int           `env:"CONCURRENCY" envDefault:"1"`
	CommandMaxDeliveries int           `env:"COMMAND_MAX_DELIVERIES" envDefault:"5"`
	RedeliveryDelay      time.Duration `env:"REDELIVERY_DELAY" envDefault:"1s"`

	// BodyFormat is json, xml or yaml.
	BodyFormat string `env:"BODY_FORMAT" envDefault:"json"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"taskdispatch"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration Load produces from an empty
// environment.
func Default() Config {
	var cfg Config
	// Defaults only; an empty environment cannot fail to parse.
	_ = env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: map[string]string{}})
	return cfg
}

var (
	brokers = []string{"memory", "sqlite", "postgres", "redis", "mongo"}
	formats = []string{"json", "xml", "yaml"}
	levels  = []string{"debug", "info", "warn", "error"}
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if u, err := url.Parse(c.EngineURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine url %q must be an absolute URL", c.EngineURL))
	}
	check(c.WorkerID != "", "worker id must not be empty")
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)
	check(c.BatchSize > 0, "batch size must be positive, got %d", c.BatchSize)
	check(c.LockDuration > 0, "lock duration must be positive, got %s", c.LockDuration)
	check(c.EmptyWait >= 0, "empty wait must not be negative, got %s", c.EmptyWait)
	check(c.FailAttempts > 0, "fail attempts must be positive, got %d", c.FailAttempts)
	check(c.FailCooldown >= 0, "fail cooldown must not be negative, got %s", c.FailCooldown)

	check(oneOf(c.Broker, brokers), "broker %q must be one of %s", c.Broker, strings.Join(brokers, ", "))
	check(c.Broker == "memory" || c.Broker == "sqlite" || c.BrokerDSN != "",
		"broker %q needs a DSN", c.Broker)

	for name, q := range map[string]string{
		"command queue": c.CommandQueue,
		"outcome queue": c.OutcomeQueue,
		"signal queue":  c.SignalQueue,
		"outcome dlq":   c.OutcomeDLQ,
		"signal dlq":    c.SignalDLQ,
		"command dlq":   c.CommandDLQ,
		"type header":   c.TypeHeader,
		"error header":  c.ErrorHeader,
	} {
		check(q != "", "%s must not be empty", name)
	}

	check(c.SignalRetryMax >= 0, "signal retry max must not be negative, got %d", c.SignalRetryMax)
	check(c.SignalRetryDelay >= 0, "signal retry delay must not be negative, got %s", c.SignalRetryDelay)
	check(c.Concurrency > 0, "concurrency must be positive, got %d", c.Concurrency)
	check(c.CommandMaxDeliveries >= 0, "command max deliveries must not be negative, got %d", c.CommandMaxDeliveries)
	check(oneOf(c.BodyFormat, formats), "body format %q must be one of %s", c.BodyFormat, strings.Join(formats, ", "))
	check(oneOf(c.LogLevel, levels), "log level %q must be one of %s", c.LogLevel, strings.Join(levels, ", "))
	check(oneOf(c.LogFormat, []string{"text", "json"}), "log format %q must be text or json", c.LogFormat)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// Logger builds the slog logger described by LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
