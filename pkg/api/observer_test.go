package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	claimed     int
	dispatched  int
	dispatchErr int
	reports     int
	outcomes    int
	deadLetters int
	fired       int
	requeued    int

	lastDispatchErr error
	lastOutcome     Status
	lastDeadLetter  struct {
		Queue string
		Type  string
		Err   error
	}
	lastRequeue struct {
		Name  string
		Retry int
		Delay time.Duration
	}
}

func (o *testObserver) OnTasksClaimed(ctx context.Context, workerID string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.claimed += count
}

func (o *testObserver) OnTaskDispatched(ctx context.Context, topic, taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched++
}

func (o *testObserver) OnDispatchFailed(ctx context.Context, topic, taskID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatchErr++
	o.lastDispatchErr = err
}

func (o *testObserver) OnFailureReported(ctx context.Context, taskID string, attempt int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports++
}

func (o *testObserver) OnOutcomeApplied(ctx context.Context, typeName, taskID string, status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes++
	o.lastOutcome = status
}

func (o *testObserver) OnDeadLettered(ctx context.Context, queue, typeName string, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deadLetters++
	o.lastDeadLetter.Queue = queue
	o.lastDeadLetter.Type = typeName
	o.lastDeadLetter.Err = cause
}

func (o *testObserver) OnSignalFired(ctx context.Context, name, businessKey string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fired++
}

func (o *testObserver) OnSignalRequeued(ctx context.Context, name string, retry int, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requeued++
	o.lastRequeue.Name = name
	o.lastRequeue.Retry = retry
	o.lastRequeue.Delay = delay
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Copy to avoid reuse issues.
	cpy := slog.Record{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		cpy.AddAttrs(a)
		return true
	})
	h.records = append(h.records, cpy)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return h
}

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	var o Observer = NoopObserver{}

	o.OnTasksClaimed(ctx, "w", 3)
	o.OnTaskDispatched(ctx, "topic", "t-1")
	o.OnDispatchFailed(ctx, "topic", "t-1", errors.New("boom"))
	o.OnFailureReported(ctx, "t-1", 1, nil)
	o.OnOutcomeApplied(ctx, "topic", "t-1", StatusComplete)
	o.OnDeadLettered(ctx, "dlq", "topic", errors.New("boom"))
	o.OnSignalFired(ctx, "sig", "bk")
	o.OnSignalRequeued(ctx, "sig", 1, time.Second)
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NewCompositeObserver() to return NoopObserver, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(single, nil) // include a nil to ensure it is filtered

	if got, ok := o.(*testObserver); !ok || got != single {
		t.Fatalf("expected the single non-nil observer to be returned, got %T (%p)", o, o)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	err := errors.New("send failed")
	co.OnTasksClaimed(ctx, "w", 2)
	co.OnTaskDispatched(ctx, "topic", "t-1")
	co.OnDispatchFailed(ctx, "topic", "t-2", err)
	co.OnFailureReported(ctx, "t-2", 1, nil)
	co.OnOutcomeApplied(ctx, "topic", "t-1", StatusFail)
	co.OnDeadLettered(ctx, "dispatcherDLQ", "topic", err)
	co.OnSignalFired(ctx, "sig", "bk")
	co.OnSignalRequeued(ctx, "sig", 3, 2*time.Second)

	for i, o := range []*testObserver{o1, o2} {
		if o.claimed != 2 || o.dispatched != 1 || o.dispatchErr != 1 || o.reports != 1 ||
			o.outcomes != 1 || o.deadLetters != 1 || o.fired != 1 || o.requeued != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastDispatchErr != err || o.lastDeadLetter.Err != err {
			t.Fatalf("observer %d error mismatch", i+1)
		}
		if o.lastOutcome != StatusFail {
			t.Fatalf("observer %d outcome mismatch: %v", i+1, o.lastOutcome)
		}
		if o.lastDeadLetter.Queue != "dispatcherDLQ" || o.lastDeadLetter.Type != "topic" {
			t.Fatalf("observer %d dead letter mismatch: %+v", i+1, o.lastDeadLetter)
		}
		if o.lastRequeue.Name != "sig" || o.lastRequeue.Retry != 3 || o.lastRequeue.Delay != 2*time.Second {
			t.Fatalf("observer %d requeue mismatch: %+v", i+1, o.lastRequeue)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnDeadLettered_EmitsErrorLog(t *testing.T) {
	ctx := context.Background()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnDeadLettered(ctx, "dispatcherDLQ", "Simple", errors.New("decode failed"))

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}

	rec := h.records[0]
	if rec.Level != slog.LevelError {
		t.Fatalf("expected LevelError, got %v", rec.Level)
	}
	if rec.Message != "message_dead_lettered" {
		t.Fatalf("expected message message_dead_lettered, got %q", rec.Message)
	}

	attrs := attrsToMap(rec)
	if attrs["queue"] != "dispatcherDLQ" {
		t.Fatalf("expected queue=dispatcherDLQ, got %v", attrs["queue"])
	}
	if attrs["type"] != "Simple" {
		t.Fatalf("expected type=Simple, got %v", attrs["type"])
	}
	if attrs["error"] == nil {
		t.Fatalf("expected error attribute, got nil")
	}
}

func TestLoggingObserver_OnFailureReported_LevelDependsOnError(t *testing.T) {
	ctx := context.Background()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnFailureReported(ctx, "t-1", 1, errors.New("engine down"))
	o.OnFailureReported(ctx, "t-1", 2, nil)

	if len(h.records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(h.records))
	}
	if h.records[0].Level != slog.LevelWarn {
		t.Fatalf("expected failed attempt LevelWarn, got %v", h.records[0].Level)
	}
	if h.records[1].Level != slog.LevelInfo {
		t.Fatalf("expected accepted attempt LevelInfo, got %v", h.records[1].Level)
	}

	attrs := attrsToMap(h.records[1])
	if attrs["attempt"] != int64(2) {
		t.Fatalf("expected attempt=2, got %v", attrs["attempt"])
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()

	// 5 claimed, 1 dispatch failure, 2 completed, 1 failed -> in flight = 1
	m.OnTasksClaimed(ctx, "w", 3)
	m.OnTasksClaimed(ctx, "w", 2)
	for i := 0; i < 4; i++ {
		m.OnTaskDispatched(ctx, "topic", "t")
	}
	m.OnDispatchFailed(ctx, "topic", "t-5", errors.New("boom"))
	m.OnFailureReported(ctx, "t-5", 1, errors.New("engine down"))
	m.OnFailureReported(ctx, "t-5", 2, nil)
	m.OnOutcomeApplied(ctx, "topic", "t-1", StatusComplete)
	m.OnOutcomeApplied(ctx, "topic", "t-2", StatusComplete)
	m.OnOutcomeApplied(ctx, "topic", "t-3", StatusFail)

	snap := m.Snapshot()

	if snap.TasksClaimed != 5 {
		t.Fatalf("TasksClaimed=%d, want 5", snap.TasksClaimed)
	}
	if snap.TasksDispatched != 4 {
		t.Fatalf("TasksDispatched=%d, want 4", snap.TasksDispatched)
	}
	if snap.FailureReports != 2 {
		t.Fatalf("FailureReports=%d, want 2", snap.FailureReports)
	}
	if snap.OutcomesCompleted != 2 || snap.OutcomesFailed != 1 {
		t.Fatalf("outcomes=%d/%d, want 2/1", snap.OutcomesCompleted, snap.OutcomesFailed)
	}
	if snap.InFlight != 1 {
		t.Fatalf("InFlight=%d, want 1", snap.InFlight)
	}
}

func TestBasicMetrics_SignalAndDeadLetterCounters(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()

	m.OnSignalFired(ctx, "sig", "bk")
	m.OnSignalRequeued(ctx, "sig", 1, 0)
	m.OnSignalRequeued(ctx, "sig", 2, 0)
	m.OnDeadLettered(ctx, "dispatcherSignalDLQ", "sig", errors.New("no execution"))

	snap := m.Snapshot()
	if snap.SignalsFired != 1 || snap.SignalsRequeued != 2 || snap.DeadLettered != 1 {
		t.Fatalf("unexpected signal counters: %+v", snap)
	}
}

func TestBasicMetrics_ZeroSnapshot(t *testing.T) {
	var m BasicMetrics
	if snap := m.Snapshot(); snap != (BasicMetricsSnapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}
