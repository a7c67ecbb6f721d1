package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/variable"
)

// fakeEngine is an httptest server that records request bodies per path.
type fakeEngine struct {
	mu      sync.Mutex
	bodies  map[string][]string
	auth    []string
	queries []string
	srv     *httptest.Server
}

func newFakeEngine(t *testing.T, mux func(f *fakeEngine, w http.ResponseWriter, r *http.Request)) *fakeEngine {
	t.Helper()
	f := &fakeEngine{bodies: make(map[string][]string)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		user, pass, _ := r.BasicAuth()
		f.mu.Lock()
		f.bodies[r.Method+" "+r.URL.Path] = append(f.bodies[r.Method+" "+r.URL.Path], string(raw))
		f.auth = append(f.auth, user+":"+pass)
		if r.URL.RawQuery != "" {
			f.queries = append(f.queries, r.URL.RawQuery)
		}
		f.mu.Unlock()
		mux(f, w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEngine) body(t *testing.T, key string, i int) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.bodies[key]), i, "no request %d for %s", i, key)
	return []byte(f.bodies[key][i])
}

// canonical re-indents a JSON document with sorted keys.
func canonical(t *testing.T, raw []byte) []byte {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(raw, &v))
	out, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return out
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRESTClient_FetchAndLockWireFormat(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{
			"id": "t-1",
			"workerId": "externalTaskProcessor",
			"topicName": "Simple",
			"retries": 3,
			"priority": 7,
			"unknownField": "ignored",
			"variables": {
				"stringVar": {"type": "String", "value": "value"},
				"count": {"type": "Integer", "value": 42}
			}
		}]`)
	})

	c := NewRESTClient(f.srv.URL+"/engine-rest/", WithBasicAuth("demo", "secret"))
	tasks, err := c.FetchAndLock(context.Background(), api.FetchRequest{
		WorkerID: "externalTaskProcessor",
		MaxTasks: 100,
		Topics: []api.FetchTopic{
			{TopicName: "Scoring", LockDuration: 86400000, Variables: []string{"amount", "customerName"}},
			{TopicName: "Simple", LockDuration: 86400000, Variables: []string{"otherVar", "stringVar"}},
		},
	})
	if err != nil {
		t.Fatalf("FetchAndLock failed: %v", err)
	}

	require.Len(t, tasks, 1)
	assert.Equal(t, "t-1", tasks[0].ID)
	require.NotNil(t, tasks[0].Retries)
	assert.Equal(t, 3, *tasks[0].Retries)
	assert.Equal(t, int64(7), tasks[0].Priority)

	count, err := variable.FromWireValue(tasks[0].Variables["count"])
	require.NoError(t, err)
	assert.Equal(t, int32(42), count)

	golden(t).Assert(t, "fetch_and_lock_request", canonical(t, f.body(t, "POST /engine-rest/external-task/fetchAndLock", 0)))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"demo:secret"}, f.auth)
}

func TestRESTClient_FetchAndLockKeepsLargeNumbersExact(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{
			"id": "t-1",
			"topicName": "Billing",
			"variables": {
				"amount": {"type": "Long", "value": 9007199254740993},
				"ratio": {"type": "Double", "value": 0.25},
				"raw": {"value": 12345678901234567}
			}
		}]`)
	})

	tasks, err := NewRESTClient(f.srv.URL).FetchAndLock(context.Background(), api.FetchRequest{
		WorkerID: "w1",
		MaxTasks: 1,
		Topics:   []api.FetchTopic{{TopicName: "Billing", LockDuration: 1000}},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	vars := tasks[0].Variables

	amount, err := variable.FromWireValue(vars["amount"])
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), amount)

	ratio, err := variable.FromWireValue(vars["ratio"])
	require.NoError(t, err)
	assert.Equal(t, 0.25, ratio)

	var dst struct {
		Amount int64
		Raw    uint64
	}
	fields := reflect.ValueOf(&dst).Elem()
	require.NoError(t, variable.Assign(fields.FieldByName("Amount"), amount))
	raw, err := variable.FromWireValue(vars["raw"])
	require.NoError(t, err)
	require.NoError(t, variable.Assign(fields.FieldByName("Raw"), raw))
	assert.Equal(t, int64(9007199254740993), dst.Amount)
	assert.Equal(t, uint64(12345678901234567), dst.Raw)
}

func TestRESTClient_CompleteWireFormat(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := NewRESTClient(f.srv.URL)
	err := c.Complete(context.Background(), "t-1", api.CompleteRequest{
		WorkerID: "w1",
		Variables: variable.Encode(map[string]any{
			"stringVar": "value",
			"count":     int32(3),
			"approved":  true,
		}),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	golden(t).Assert(t, "complete_request", canonical(t, f.body(t, "POST /external-task/t-1/complete", 0)))
}

func TestRESTClient_FailSendsRetryPolicy(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	retries := 0
	c := NewRESTClient(f.srv.URL)
	require.NoError(t, c.Fail(context.Background(), "t-2", api.FailureRequest{
		WorkerID:     "w1",
		ErrorMessage: "boom",
		Retries:      &retries,
		RetryTimeout: 5000,
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(f.body(t, "POST /external-task/t-2/failure", 0), &got))
	assert.Equal(t, map[string]any{
		"workerId":     "w1",
		"errorMessage": "boom",
		"retries":      float64(0),
		"retryTimeout": float64(5000),
	}, got)
}

func TestRESTClient_UnexpectedStatusIsRestError(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"ProcessEngineException","message":"locked by other worker"}`)
	})

	err := NewRESTClient(f.srv.URL).Complete(context.Background(), "t-1", api.CompleteRequest{WorkerID: "w"})
	require.Error(t, err)

	var re *api.RestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Contains(t, re.Body, "locked by other worker")
}

func TestRESTClient_TransportErrorIsRestError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewRESTClient(srv.URL).FetchAndLock(context.Background(), api.FetchRequest{WorkerID: "w"})
	require.Error(t, err)
	assert.True(t, api.IsRestError(err))
	assert.False(t, api.IsNotFound(err))
}

func TestRESTClient_FireSignalDeliversToActiveExecutions(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/execution":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[
				{"id": "e-1", "processInstanceId": "p-1", "ended": false},
				{"id": "e-2", "processInstanceId": "p-1", "ended": true},
				{"id": "e-3", "processInstanceId": "p-1", "ended": false}
			]`)
		case "/signal":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	err := NewRESTClient(f.srv.URL).FireSignal(context.Background(), "order-7", api.SignalRequest{
		Name:      "orderShipped",
		Variables: variable.Encode(map[string]any{"carrier": "dhl"}),
	})
	if err != nil {
		t.Fatalf("FireSignal failed: %v", err)
	}

	f.mu.Lock()
	assert.Equal(t, []string{"businessKey=order-7&signalEventSubscriptionName=orderShipped"}, f.queries)
	f.mu.Unlock()

	var first, second api.SignalRequest
	require.NoError(t, json.Unmarshal(f.body(t, "POST /signal", 0), &first))
	require.NoError(t, json.Unmarshal(f.body(t, "POST /signal", 1), &second))
	assert.Equal(t, "e-1", first.ExecutionID)
	assert.Equal(t, "e-3", second.ExecutionID)
	assert.Equal(t, "orderShipped", first.Name)
	assert.Equal(t, variable.TypeString, first.Variables["carrier"].Type)
}

func TestRESTClient_FireSignalWithoutSubscriberIsNotFound(t *testing.T) {
	f := newFakeEngine(t, func(_ *fakeEngine, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id": "e-2", "ended": true}]`)
	})

	err := NewRESTClient(f.srv.URL).FireSignal(context.Background(), "order-7", api.SignalRequest{Name: "orderShipped"})
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
	assert.Contains(t, err.Error(), "There is no active execution with business key order-7 subscribed to signal event: orderShipped")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.bodies["POST /signal"])
}
