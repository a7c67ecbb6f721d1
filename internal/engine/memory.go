package engine

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/variable"
)

// CompletedTask records a Complete call accepted by MemoryEngine.
type CompletedTask struct {
	TaskID    string
	TopicName string
	WorkerID  string
	Variables map[string]variable.TypedValue
}

// FailureReport records a Fail call accepted by MemoryEngine.
type FailureReport struct {
	TaskID       string
	WorkerID     string
	ErrorMessage string
	ErrorDetails string
	Retries      *int
	RetryTimeout time.Duration
}

// DeliveredSignal records one signal delivery to one execution.
type DeliveredSignal struct {
	BusinessKey string
	Name        string
	ExecutionID string
	Variables   map[string]variable.TypedValue
}

type memTask struct {
	task      api.LockedTask
	lockedBy  string
	lockUntil time.Time
	retryAt   time.Time
	// incident is raised when a failure leaves no retries.
	incident bool
}

type subscription struct {
	executionID string
	name        string
}

// MemoryEngine is a small in-process engine. Tasks are added per topic and
// claimed with the same lock semantics as the remote engine; signals are
// delivered to subscriptions registered per business key, and a delivered
// subscription is consumed.
type MemoryEngine struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64

	tasks map[string]*memTask
	order []string

	subs map[string][]subscription

	completed []CompletedTask
	failures  []FailureReport
	signals   []DeliveredSignal
}

// NewMemoryEngine returns an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		now:   time.Now,
		tasks: make(map[string]*memTask),
		subs:  make(map[string][]subscription),
	}
}

// Ensure MemoryEngine implements api.Engine.
var _ api.Engine = (*MemoryEngine)(nil)

func (e *MemoryEngine) newIDLocked(prefix string) string {
	e.nextID++
	return prefix + "-" + strconv.FormatInt(e.nextID, 10)
}

// AddTask creates a pending task on topic and returns its id. vars are
// encoded with variable.Encode.
func (e *MemoryEngine) AddTask(topic, businessKey string, vars map[string]any) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.newIDLocked("task")
	e.tasks[id] = &memTask{task: api.LockedTask{
		ID:                id,
		TopicName:         topic,
		BusinessKey:       businessKey,
		ProcessInstanceID: e.newIDLocked("pi"),
		ExecutionID:       e.newIDLocked("exec"),
		Variables:         variable.Encode(vars),
	}}
	e.order = append(e.order, id)
	return id
}

// Subscribe registers an execution of businessKey waiting for signal name and
// returns the execution id.
func (e *MemoryEngine) Subscribe(businessKey, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.newIDLocked("exec")
	e.subs[businessKey] = append(e.subs[businessKey], subscription{executionID: id, name: name})
	return id
}

func (e *MemoryEngine) FetchAndLock(ctx context.Context, req api.FetchRequest) ([]api.LockedTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.WorkerID == "" {
		return nil, api.NewRestError(http.StatusBadRequest, "workerId is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	topics := make(map[string]api.FetchTopic, len(req.Topics))
	for _, t := range req.Topics {
		topics[t.TopicName] = t
	}

	now := e.now()
	var out []api.LockedTask
	for _, id := range e.order {
		if req.MaxTasks > 0 && len(out) >= req.MaxTasks {
			break
		}
		mt, ok := e.tasks[id]
		if !ok || mt.incident || mt.lockUntil.After(now) || mt.retryAt.After(now) {
			continue
		}
		topic, ok := topics[mt.task.TopicName]
		if !ok {
			continue
		}

		mt.lockedBy = req.WorkerID
		mt.lockUntil = now.Add(time.Duration(topic.LockDuration) * time.Millisecond)

		locked := mt.task
		locked.WorkerID = req.WorkerID
		locked.LockExpirationTime = mt.lockUntil.Format(variable.DateLayout)
		locked.Variables = selectVariables(mt.task.Variables, topic.Variables)
		out = append(out, locked)
	}
	return out, nil
}

// selectVariables keeps the requested names; no names means all of them.
func selectVariables(all map[string]variable.TypedValue, names []string) map[string]variable.TypedValue {
	if len(names) == 0 {
		return cloneVars(all)
	}
	out := make(map[string]variable.TypedValue, len(names))
	for name, v := range all {
		if slices.Contains(names, name) {
			out[name] = v
		}
	}
	return out
}

func cloneVars(in map[string]variable.TypedValue) map[string]variable.TypedValue {
	if in == nil {
		return nil
	}
	out := make(map[string]variable.TypedValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// lockedTaskLocked returns the task if workerID holds an unexpired lock on it.
func (e *MemoryEngine) lockedTaskLocked(taskID, workerID, action string) (*memTask, error) {
	mt, ok := e.tasks[taskID]
	if !ok {
		return nil, api.NewRestError(http.StatusNotFound, fmt.Sprintf("External task with id %s does not exist", taskID))
	}
	if mt.lockedBy != workerID || !mt.lockUntil.After(e.now()) {
		return nil, api.NewRestError(http.StatusInternalServerError,
			fmt.Sprintf("External Task %s cannot be %s by worker '%s'. It is locked by worker '%s'.", taskID, action, workerID, mt.lockedBy))
	}
	return mt, nil
}

func (e *MemoryEngine) Complete(ctx context.Context, taskID string, req api.CompleteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	mt, err := e.lockedTaskLocked(taskID, req.WorkerID, "completed")
	if err != nil {
		return err
	}
	e.completed = append(e.completed, CompletedTask{
		TaskID:    taskID,
		TopicName: mt.task.TopicName,
		WorkerID:  req.WorkerID,
		Variables: cloneVars(req.Variables),
	})
	delete(e.tasks, taskID)
	e.order = slices.DeleteFunc(e.order, func(id string) bool { return id == taskID })
	return nil
}

func (e *MemoryEngine) Fail(ctx context.Context, taskID string, req api.FailureRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	mt, err := e.lockedTaskLocked(taskID, req.WorkerID, "failed")
	if err != nil {
		return err
	}

	timeout := time.Duration(req.RetryTimeout) * time.Millisecond
	e.failures = append(e.failures, FailureReport{
		TaskID:       taskID,
		WorkerID:     req.WorkerID,
		ErrorMessage: req.ErrorMessage,
		ErrorDetails: req.ErrorDetails,
		Retries:      req.Retries,
		RetryTimeout: timeout,
	})

	mt.task.ErrorMessage = req.ErrorMessage
	mt.task.ErrorDetails = req.ErrorDetails
	if req.Retries != nil {
		r := *req.Retries
		mt.task.Retries = &r
		mt.incident = r <= 0
	}
	mt.lockedBy = ""
	mt.lockUntil = time.Time{}
	mt.retryAt = e.now().Add(timeout)
	return nil
}

func (e *MemoryEngine) FireSignal(ctx context.Context, businessKey string, req api.SignalRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var kept []subscription
	delivered := 0
	for _, s := range e.subs[businessKey] {
		if s.name != req.Name {
			kept = append(kept, s)
			continue
		}
		e.signals = append(e.signals, DeliveredSignal{
			BusinessKey: businessKey,
			Name:        req.Name,
			ExecutionID: s.executionID,
			Variables:   cloneVars(req.Variables),
		})
		delivered++
	}
	if delivered == 0 {
		return api.NewRestError(http.StatusNotFound, fmt.Sprintf(
			"There is no active execution with business key %s subscribed to signal event: %s",
			businessKey, req.Name))
	}
	e.subs[businessKey] = kept
	return nil
}

// Completed returns the accepted Complete calls in order.
func (e *MemoryEngine) Completed() []CompletedTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.completed)
}

// Failures returns the accepted Fail calls in order.
func (e *MemoryEngine) Failures() []FailureReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.failures)
}

// Signals returns the signal deliveries in order.
func (e *MemoryEngine) Signals() []DeliveredSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.signals)
}

// Pending returns the number of tasks on topic that are neither completed
// nor in an incident.
func (e *MemoryEngine) Pending(topic string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, mt := range e.tasks {
		if mt.task.TopicName == topic && !mt.incident {
			n++
		}
	}
	return n
}
