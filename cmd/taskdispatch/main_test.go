package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/config"
	"github.com/petrijr/taskdispatch/pkg/api"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTopicsCommand(t *testing.T) {
	out, err := execute(t, "topics", "--lock-duration", "1m")
	if err != nil {
		t.Fatalf("topics failed: %v", err)
	}
	assert.Contains(t, out, "TOPIC")
	assert.Contains(t, out, "greeting")
	assert.Contains(t, out, "60000")
	assert.Contains(t, out, "message,name")
	assert.NotContains(t, out, "approval")
}

func TestTopicsCommand_JSON(t *testing.T) {
	out, err := execute(t, "topics", "--json")
	require.NoError(t, err)

	var topics []api.FetchTopic
	require.NoError(t, json.Unmarshal([]byte(out), &topics))
	require.Len(t, topics, 1)
	assert.Equal(t, api.FetchTopic{
		TopicName:    "greeting",
		LockDuration: (24 * time.Hour).Milliseconds(),
		Variables:    []string{"message", "name"},
	}, topics[0])
}

func TestSignalCommand_PublishesToSignalQueue(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "broker.db")

	out, err := execute(t, "--broker", "sqlite", "--broker-dsn", dsn,
		"signal", "approval", `{"orderKey":"order-1","approver":"ann","approved":true}`)
	require.NoError(t, err)
	assert.Contains(t, out, "published signal approval to dispatcherSignalIn")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := broker.Open(ctx, broker.KindSQLite, dsn, broker.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer b.Close()

	d, err := b.Receive(ctx, "dispatcherSignalIn")
	require.NoError(t, err)
	assert.Equal(t, "approval", d.Header(api.DefaultTypeHeader))

	var got Approval
	require.NoError(t, json.Unmarshal(d.Body, &got))
	assert.Equal(t, Approval{OrderKey: "order-1", Approver: "ann", Approved: true}, got)
	require.NoError(t, b.Ack(ctx, d))
}

func TestSignalCommand_UnknownSignal(t *testing.T) {
	_, err := execute(t, "signal", "greeting", `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRootFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("TASKDISPATCH_WORKERS", "3")
	t.Setenv("TASKDISPATCH_BROKER", "redis")

	_, err := execute(t, "topics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `broker "redis" needs a DSN`)

	_, err = execute(t, "--broker", "memory", "--workers", "0", "topics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must be positive")
}

func TestDispatcherConfig(t *testing.T) {
	cfg := config.Default()
	cfg.FailAttempts = 4
	cfg.FailCooldown = time.Second
	cfg.SignalRetryMax = 2

	dc := dispatcherConfig(cfg)
	assert.Equal(t, api.FixedRetry(4, time.Second), dc.Worker.FailureRetry)
	assert.Equal(t, "dispatcherOut", dc.Queues.Commands)
	assert.Equal(t, "dispatcherIn", dc.Queues.Outcomes)
	assert.Equal(t, 2, dc.SignalRetry.Max)
	assert.Equal(t, "dispatcherRetry", dc.SignalRetry.Header)
	assert.Equal(t, 5, dc.CommandMaxDeliveries)
}
