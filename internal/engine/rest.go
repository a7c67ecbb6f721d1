// Package engine holds the engine clients the dispatcher talks to: a REST
// client for a remote engine and an in-memory engine for tests and local
// runs. Both implement api.Engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/petrijr/taskdispatch/internal/telemetry"
	"github.com/petrijr/taskdispatch/pkg/api"
)

// RESTClient calls the engine's REST API.
type RESTClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// RESTOption customizes a RESTClient.
type RESTOption func(*RESTClient)

// WithBasicAuth sends HTTP basic credentials on every request.
func WithBasicAuth(username, password string) RESTOption {
	return func(c *RESTClient) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) RESTOption {
	return func(c *RESTClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewRESTClient returns a client for the engine rooted at baseURL, for
// example "http://localhost:8080/engine-rest".
func NewRESTClient(baseURL string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure RESTClient implements api.Engine.
var _ api.Engine = (*RESTClient)(nil)

func (c *RESTClient) FetchAndLock(ctx context.Context, req api.FetchRequest) (tasks []api.LockedTask, err error) {
	ctx, span := telemetry.Start(ctx, "engine.fetch_and_lock",
		attribute.String("worker.id", req.WorkerID),
		attribute.Int("topics", len(req.Topics)),
	)
	defer func() { telemetry.End(span, err) }()

	err = c.do(ctx, http.MethodPost, "/external-task/fetchAndLock", nil, req, &tasks, http.StatusOK)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("tasks", len(tasks)))
	return tasks, nil
}

func (c *RESTClient) Complete(ctx context.Context, taskID string, req api.CompleteRequest) (err error) {
	ctx, span := telemetry.Start(ctx, "engine.complete", attribute.String("task.id", taskID))
	defer func() { telemetry.End(span, err) }()

	path := "/external-task/" + url.PathEscape(taskID) + "/complete"
	return c.do(ctx, http.MethodPost, path, nil, req, nil, http.StatusNoContent, http.StatusOK)
}

func (c *RESTClient) Fail(ctx context.Context, taskID string, req api.FailureRequest) (err error) {
	ctx, span := telemetry.Start(ctx, "engine.fail", attribute.String("task.id", taskID))
	defer func() { telemetry.End(span, err) }()

	path := "/external-task/" + url.PathEscape(taskID) + "/failure"
	return c.do(ctx, http.MethodPost, path, nil, req, nil, http.StatusNoContent, http.StatusOK)
}

// FireSignal looks up the executions of businessKey subscribed to req.Name
// and delivers the signal to each one that has not ended.
func (c *RESTClient) FireSignal(ctx context.Context, businessKey string, req api.SignalRequest) (err error) {
	ctx, span := telemetry.Start(ctx, "engine.fire_signal",
		attribute.String("signal.name", req.Name),
		attribute.String("business.key", businessKey),
	)
	defer func() { telemetry.End(span, err) }()

	q := url.Values{}
	q.Set("businessKey", businessKey)
	q.Set("signalEventSubscriptionName", req.Name)

	var executions []api.Execution
	if err := c.do(ctx, http.MethodGet, "/execution", q, nil, &executions, http.StatusOK); err != nil {
		return err
	}

	active := executions[:0]
	for _, ex := range executions {
		if !ex.Ended {
			active = append(active, ex)
		}
	}
	if len(active) == 0 {
		return api.NewRestError(http.StatusNotFound, fmt.Sprintf(
			"There is no active execution with business key %s subscribed to signal event: %s",
			businessKey, req.Name))
	}

	for _, ex := range active {
		body := req
		body.ExecutionID = ex.ID
		if err := c.do(ctx, http.MethodPost, "/signal", nil, body, nil, http.StatusNoContent); err != nil {
			return err
		}
		c.logger.DebugContext(ctx, "signal_delivered",
			slog.String("signal", req.Name),
			slog.String("execution_id", ex.ID),
		)
	}
	return nil
}

// do sends one request and decodes the JSON response into out when out is
// non-nil. Any status outside want becomes an *api.RestError.
func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, in, out any, want ...int) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &api.RestError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &api.RestError{StatusCode: resp.StatusCode, Err: err}
	}

	if !statusIn(resp.StatusCode, want) {
		return api.NewRestError(resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		// Variable values are untyped; json.Number keeps Long values above
		// 2^53 exact until the variable codec converts them.
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}
