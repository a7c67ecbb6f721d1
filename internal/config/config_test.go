package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assert.Equal(t, "externalTaskProcessor", cfg.WorkerID)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.LockDuration)
	assert.Equal(t, 5*time.Second, cfg.EmptyWait)
	assert.Equal(t, 10, cfg.FailAttempts)
	assert.Equal(t, 5*time.Second, cfg.FailCooldown)
	assert.Equal(t, "memory", cfg.Broker)
	assert.Equal(t, "dispatcherOut", cfg.CommandQueue)
	assert.Equal(t, "dispatcherIn", cfg.OutcomeQueue)
	assert.Equal(t, "dispatcherSignalIn", cfg.SignalQueue)
	assert.Equal(t, "dispatcherDLQ", cfg.OutcomeDLQ)
	assert.Equal(t, "dispatcherSignalDLQ", cfg.SignalDLQ)
	assert.Equal(t, "dispatcherCommandDLQ", cfg.CommandDLQ)
	assert.Equal(t, "dispatcherType", cfg.TypeHeader)
	assert.Equal(t, "json", cfg.BodyFormat)
	assert.Equal(t, cfg, Default())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TASKDISPATCH_ENGINE_URL", "https://engine.example.com/engine-rest")
	t.Setenv("TASKDISPATCH_WORKERS", "8")
	t.Setenv("TASKDISPATCH_LOCK_DURATION", "90s")
	t.Setenv("TASKDISPATCH_BROKER", "redis")
	t.Setenv("TASKDISPATCH_BROKER_DSN", "redis://localhost:6379/0")
	t.Setenv("TASKDISPATCH_SIGNAL_RETRY_MAX", "0")
	t.Setenv("TASKDISPATCH_BODY_FORMAT", "yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://engine.example.com/engine-rest", cfg.EngineURL)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.LockDuration)
	assert.Equal(t, "redis", cfg.Broker)
	assert.Zero(t, cfg.SignalRetryMax)
	assert.Equal(t, "yaml", cfg.BodyFormat)
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("TASKDISPATCH_WORKERS", "many")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.EngineURL = "engine-rest"
	cfg.Workers = 0
	cfg.Broker = "postgres"
	cfg.BodyFormat = "protobuf"
	cfg.OutcomeDLQ = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "engine url")
	assert.Contains(t, msg, "workers must be positive")
	assert.Contains(t, msg, `broker "postgres" needs a DSN`)
	assert.Contains(t, msg, `body format "protobuf"`)
	assert.Contains(t, msg, "outcome dlq must not be empty")
}

func TestValidateRejectsUnknownBroker(t *testing.T) {
	cfg := Default()
	cfg.Broker = "kafka"
	cfg.BrokerDSN = "kafka://localhost"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `broker "kafka" must be one of`)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"

	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}
