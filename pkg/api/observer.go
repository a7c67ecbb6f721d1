package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the poller and the listeners for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay task dispatch.
type Observer interface {
	// OnTasksClaimed is called after every fetch-and-lock round trip that
	// returned at least one task.
	OnTasksClaimed(ctx context.Context, workerID string, count int)

	// OnTaskDispatched is called once a claimed task was turned into a
	// command and handed to the transport.
	OnTaskDispatched(ctx context.Context, topic, taskID string)

	// OnDispatchFailed is called when a claimed task could not be turned into
	// a command or sent.
	OnDispatchFailed(ctx context.Context, topic, taskID string, err error)

	// OnFailureReported is called for every attempt to report a dispatch
	// failure back to the engine. err is nil for the accepted attempt.
	OnFailureReported(ctx context.Context, taskID string, attempt int, err error)

	// OnOutcomeApplied is called after a business outcome was applied to the
	// engine.
	OnOutcomeApplied(ctx context.Context, typeName, taskID string, status Status)

	// OnDeadLettered is called when a message is moved to a dead-letter queue.
	OnDeadLettered(ctx context.Context, queue, typeName string, cause error)

	// OnSignalFired is called when a signal was accepted by the engine.
	OnSignalFired(ctx context.Context, name, businessKey string)

	// OnSignalRequeued is called when a signal is scheduled for another
	// delivery attempt.
	OnSignalRequeued(ctx context.Context, name string, retry int, delay time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTasksClaimed(ctx context.Context, workerID string, count int) {}

func (NoopObserver) OnTaskDispatched(ctx context.Context, topic, taskID string) {}

func (NoopObserver) OnDispatchFailed(ctx context.Context, topic, taskID string, err error) {}

func (NoopObserver) OnFailureReported(ctx context.Context, taskID string, attempt int, err error) {}

func (NoopObserver) OnOutcomeApplied(ctx context.Context, typeName, taskID string, status Status) {}

func (NoopObserver) OnDeadLettered(ctx context.Context, queue, typeName string, cause error) {}

func (NoopObserver) OnSignalFired(ctx context.Context, name, businessKey string) {}

func (NoopObserver) OnSignalRequeued(ctx context.Context, name string, retry int, delay time.Duration) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTasksClaimed(ctx context.Context, workerID string, count int) {
	for _, o := range c.observers {
		o.OnTasksClaimed(ctx, workerID, count)
	}
}

func (c *CompositeObserver) OnTaskDispatched(ctx context.Context, topic, taskID string) {
	for _, o := range c.observers {
		o.OnTaskDispatched(ctx, topic, taskID)
	}
}

func (c *CompositeObserver) OnDispatchFailed(ctx context.Context, topic, taskID string, err error) {
	for _, o := range c.observers {
		o.OnDispatchFailed(ctx, topic, taskID, err)
	}
}

func (c *CompositeObserver) OnFailureReported(ctx context.Context, taskID string, attempt int, err error) {
	for _, o := range c.observers {
		o.OnFailureReported(ctx, taskID, attempt, err)
	}
}

func (c *CompositeObserver) OnOutcomeApplied(ctx context.Context, typeName, taskID string, status Status) {
	for _, o := range c.observers {
		o.OnOutcomeApplied(ctx, typeName, taskID, status)
	}
}

func (c *CompositeObserver) OnDeadLettered(ctx context.Context, queue, typeName string, cause error) {
	for _, o := range c.observers {
		o.OnDeadLettered(ctx, queue, typeName, cause)
	}
}

func (c *CompositeObserver) OnSignalFired(ctx context.Context, name, businessKey string) {
	for _, o := range c.observers {
		o.OnSignalFired(ctx, name, businessKey)
	}
}

func (c *CompositeObserver) OnSignalRequeued(ctx context.Context, name string, retry int, delay time.Duration) {
	for _, o := range c.observers {
		o.OnSignalRequeued(ctx, name, retry, delay)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs dispatcher events using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTasksClaimed(ctx context.Context, workerID string, count int) {
	o.Logger.DebugContext(ctx, "tasks_claimed",
		slog.String("worker_id", workerID),
		slog.Int("count", count),
	)
}

func (o *LoggingObserver) OnTaskDispatched(ctx context.Context, topic, taskID string) {
	o.Logger.DebugContext(ctx, "task_dispatched",
		slog.String("topic", topic),
		slog.String("task_id", taskID),
	)
}

func (o *LoggingObserver) OnDispatchFailed(ctx context.Context, topic, taskID string, err error) {
	o.Logger.ErrorContext(ctx, "task_dispatch_failed",
		slog.String("topic", topic),
		slog.String("task_id", taskID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnFailureReported(ctx context.Context, taskID string, attempt int, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "task_failure_reported",
		slog.String("task_id", taskID),
		slog.Int("attempt", attempt),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnOutcomeApplied(ctx context.Context, typeName, taskID string, status Status) {
	o.Logger.InfoContext(ctx, "outcome_applied",
		slog.String("type", typeName),
		slog.String("task_id", taskID),
		slog.String("status", string(status)),
	)
}

func (o *LoggingObserver) OnDeadLettered(ctx context.Context, queue, typeName string, cause error) {
	o.Logger.ErrorContext(ctx, "message_dead_lettered",
		slog.String("queue", queue),
		slog.String("type", typeName),
		slog.Any("error", cause),
	)
}

func (o *LoggingObserver) OnSignalFired(ctx context.Context, name, businessKey string) {
	o.Logger.InfoContext(ctx, "signal_fired",
		slog.String("signal", name),
		slog.String("business_key", businessKey),
	)
}

func (o *LoggingObserver) OnSignalRequeued(ctx context.Context, name string, retry int, delay time.Duration) {
	o.Logger.WarnContext(ctx, "signal_requeued",
		slog.String("signal", name),
		slog.Int("retry", retry),
		slog.Duration("delay", delay),
	)
}

// BasicMetrics collects simple counters. It implements Observer, and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	tasksClaimed     atomic.Int64
	tasksDispatched  atomic.Int64
	dispatchFailures atomic.Int64
	failureReports   atomic.Int64
	completed        atomic.Int64
	failed           atomic.Int64
	deadLettered     atomic.Int64
	signalsFired     atomic.Int64
	signalsRequeued  atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	TasksClaimed     int64
	TasksDispatched  int64
	DispatchFailures int64
	// FailureReports counts attempts, accepted or not.
	FailureReports int64

	OutcomesCompleted int64
	OutcomesFailed    int64
	// InFlight is claimed tasks without an applied outcome or failure.
	InFlight int64

	DeadLettered    int64
	SignalsFired    int64
	SignalsRequeued int64
}

func (m *BasicMetrics) OnTasksClaimed(ctx context.Context, workerID string, count int) {
	m.tasksClaimed.Add(int64(count))
}

func (m *BasicMetrics) OnTaskDispatched(ctx context.Context, topic, taskID string) {
	m.tasksDispatched.Add(1)
}

func (m *BasicMetrics) OnDispatchFailed(ctx context.Context, topic, taskID string, err error) {
	m.dispatchFailures.Add(1)
}

func (m *BasicMetrics) OnFailureReported(ctx context.Context, taskID string, attempt int, err error) {
	m.failureReports.Add(1)
}

func (m *BasicMetrics) OnOutcomeApplied(ctx context.Context, typeName, taskID string, status Status) {
	if status == StatusComplete {
		m.completed.Add(1)
		return
	}
	m.failed.Add(1)
}

func (m *BasicMetrics) OnDeadLettered(ctx context.Context, queue, typeName string, cause error) {
	m.deadLettered.Add(1)
}

func (m *BasicMetrics) OnSignalFired(ctx context.Context, name, businessKey string) {
	m.signalsFired.Add(1)
}

func (m *BasicMetrics) OnSignalRequeued(ctx context.Context, name string, retry int, delay time.Duration) {
	m.signalsRequeued.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	claimed := m.tasksClaimed.Load()
	dispatchFailures := m.dispatchFailures.Load()
	completed := m.completed.Load()
	failed := m.failed.Load()

	return BasicMetricsSnapshot{
		TasksClaimed:      claimed,
		TasksDispatched:   m.tasksDispatched.Load(),
		DispatchFailures:  dispatchFailures,
		FailureReports:    m.failureReports.Load(),
		OutcomesCompleted: completed,
		OutcomesFailed:    failed,
		InFlight:          claimed - dispatchFailures - completed - failed,
		DeadLettered:      m.deadLettered.Load(),
		SignalsFired:      m.signalsFired.Load(),
		SignalsRequeued:   m.signalsRequeued.Load(),
	}
}
