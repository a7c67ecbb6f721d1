package api

import (
	"context"

	"github.com/petrijr/taskdispatch/pkg/variable"
)

// ExternalTaskService is the external-task half of the engine REST surface.
type ExternalTaskService interface {
	// FetchAndLock claims up to req.MaxTasks pending tasks across req.Topics
	// for req.WorkerID. An empty result is not an error.
	FetchAndLock(ctx context.Context, req FetchRequest) ([]LockedTask, error)

	// Complete finishes a locked task with output variables.
	Complete(ctx context.Context, taskID string, req CompleteRequest) error

	// Fail reports a task failure. The engine decrements retries or raises an
	// incident according to req.Retries.
	Fail(ctx context.Context, taskID string, req FailureRequest) error
}

// SignalService delivers named signals to executions waiting for them.
type SignalService interface {
	// FireSignal delivers req to every active execution of the process
	// instance identified by businessKey that is subscribed to req.Name.
	// When no such execution exists the returned error satisfies IsNotFound.
	FireSignal(ctx context.Context, businessKey string, req SignalRequest) error
}

// Engine is everything the dispatcher needs from the remote workflow engine.
type Engine interface {
	ExternalTaskService
	SignalService
}

// FetchTopic is one topic entry of a fetch-and-lock request.
type FetchTopic struct {
	TopicName string `json:"topicName"`
	// LockDuration is in milliseconds.
	LockDuration int64    `json:"lockDuration"`
	Variables    []string `json:"variables,omitempty"`
}

// FetchRequest claims a batch of tasks for a worker.
type FetchRequest struct {
	WorkerID    string       `json:"workerId"`
	MaxTasks    int          `json:"maxTasks"`
	UsePriority bool         `json:"usePriority,omitempty"`
	Topics      []FetchTopic `json:"topics"`
}

// LockedTask is a task claimed by FetchAndLock.
type LockedTask struct {
	ID                   string                         `json:"id"`
	WorkerID             string                         `json:"workerId,omitempty"`
	TopicName            string                         `json:"topicName"`
	ActivityID           string                         `json:"activityId,omitempty"`
	ActivityInstanceID   string                         `json:"activityInstanceId,omitempty"`
	ExecutionID          string                         `json:"executionId,omitempty"`
	ProcessDefinitionID  string                         `json:"processDefinitionId,omitempty"`
	ProcessDefinitionKey string                         `json:"processDefinitionKey,omitempty"`
	ProcessInstanceID    string                         `json:"processInstanceId,omitempty"`
	BusinessKey          string                         `json:"businessKey,omitempty"`
	TenantID             string                         `json:"tenantId,omitempty"`
	Retries              *int                           `json:"retries,omitempty"`
	ErrorMessage         string                         `json:"errorMessage,omitempty"`
	ErrorDetails         string                         `json:"errorDetails,omitempty"`
	LockExpirationTime   string                         `json:"lockExpirationTime,omitempty"`
	Priority             int64                          `json:"priority,omitempty"`
	Suspended            bool                           `json:"suspended,omitempty"`
	Variables            map[string]variable.TypedValue `json:"variables,omitempty"`
}

// Attributes returns the non-variable fields of the task keyed by their wire
// names. Unset optional fields are omitted so they never overwrite a value
// taken from the variable bag.
func (t LockedTask) Attributes() map[string]any {
	attrs := map[string]any{
		"id":        t.ID,
		"topicName": t.TopicName,
		"priority":  t.Priority,
		"suspended": t.Suspended,
	}
	set := func(name, v string) {
		if v != "" {
			attrs[name] = v
		}
	}
	set("workerId", t.WorkerID)
	set("activityId", t.ActivityID)
	set("activityInstanceId", t.ActivityInstanceID)
	set("executionId", t.ExecutionID)
	set("processDefinitionId", t.ProcessDefinitionID)
	set("processDefinitionKey", t.ProcessDefinitionKey)
	set("processInstanceId", t.ProcessInstanceID)
	set("businessKey", t.BusinessKey)
	set("tenantId", t.TenantID)
	set("errorMessage", t.ErrorMessage)
	set("errorDetails", t.ErrorDetails)
	set("lockExpirationTime", t.LockExpirationTime)
	if t.Retries != nil {
		attrs["retries"] = *t.Retries
	}
	return attrs
}

// CompleteRequest completes a locked task.
type CompleteRequest struct {
	WorkerID  string                         `json:"workerId"`
	Variables map[string]variable.TypedValue `json:"variables,omitempty"`
}

// FailureRequest reports a failed task.
type FailureRequest struct {
	WorkerID     string `json:"workerId"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	Retries      *int   `json:"retries,omitempty"`
	// RetryTimeout is in milliseconds.
	RetryTimeout int64 `json:"retryTimeout,omitempty"`
}

// SignalRequest is the body of a signal delivery. ExecutionID is filled in by
// the engine client per matching execution.
type SignalRequest struct {
	Name        string                         `json:"name"`
	ExecutionID string                         `json:"executionId,omitempty"`
	Variables   map[string]variable.TypedValue `json:"variables,omitempty"`
}

// Execution is the subset of an engine execution the signal path needs.
type Execution struct {
	ID                string `json:"id"`
	ProcessInstanceID string `json:"processInstanceId,omitempty"`
	Ended             bool   `json:"ended"`
}
