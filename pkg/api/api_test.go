package api

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_CompleteNeverCarriesReasonOrDetail(t *testing.T) {
	env := CompleteEnvelope("Simple", []byte("{}"))
	env.Reason = "ignored"
	env.Detail = "ignored"

	h := env.Headers(DefaultTypeHeader)
	assert.Equal(t, map[string]string{
		DefaultTypeHeader: "Simple",
		HeaderStatus:      "COMPLETE",
	}, h)

	back, err := EnvelopeFromHeaders(DefaultTypeHeader, map[string]string{
		DefaultTypeHeader: "Simple",
		HeaderStatus:      "COMPLETE",
		HeaderReason:      "stale",
		HeaderDetail:      "stale",
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, back.Reason)
	assert.Empty(t, back.Detail)
}

func TestEnvelope_FailHeaders(t *testing.T) {
	h := FailEnvelope("Simple", nil, "bad input", "").Headers("type")
	assert.Equal(t, "FAIL", h[HeaderStatus])
	assert.Equal(t, "bad input", h[HeaderReason])
	_, hasDetail := h[HeaderDetail]
	assert.False(t, hasDetail, "empty detail must not be emitted")

	env, err := EnvelopeFromHeaders("type", map[string]string{
		"type":       "Simple",
		HeaderStatus: "fail",
		HeaderReason: "r",
		HeaderDetail: "d",
	}, []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Status: StatusFail, Reason: "r", Detail: "d", TypeName: "Simple", Body: []byte("body")}, env)
}

func TestEnvelopeFromHeaders_UnknownStatus(t *testing.T) {
	_, err := EnvelopeFromHeaders("type", map[string]string{HeaderStatus: "MAYBE"}, nil)
	require.Error(t, err)

	_, err = EnvelopeFromHeaders("type", map[string]string{}, nil)
	require.Error(t, err)
}

func TestRestError_IsNotFound(t *testing.T) {
	err := fmt.Errorf("fire signal: %w", NewRestError(404, "no execution"))
	assert.True(t, IsNotFound(err))
	assert.True(t, IsRestError(err))

	assert.False(t, IsNotFound(NewRestError(500, "boom")))
	assert.False(t, IsNotFound(errors.New("plain")))

	transport := &RestError{Err: errors.New("connection refused")}
	assert.Contains(t, transport.Error(), "connection refused")
	assert.ErrorIs(t, transport, transport.Err)
}

func TestLockedTask_AttributesOmitUnset(t *testing.T) {
	retries := 3
	task := LockedTask{ID: "t-1", TopicName: "Simple", BusinessKey: "bk", Retries: &retries}

	attrs := task.Attributes()
	assert.Equal(t, "t-1", attrs["id"])
	assert.Equal(t, "bk", attrs["businessKey"])
	assert.Equal(t, 3, attrs["retries"])
	_, ok := attrs["workerId"]
	assert.False(t, ok)
	_, ok = attrs["errorMessage"]
	assert.False(t, ok)
}

func TestRetryPolicy_Delay(t *testing.T) {
	fixed := FixedRetry(10, 5*time.Second)
	assert.Equal(t, time.Duration(0), fixed.Delay(0))
	assert.Equal(t, 5*time.Second, fixed.Delay(1))
	assert.Equal(t, 5*time.Second, fixed.Delay(9))

	exp := RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exp.Delay(2))
	assert.Equal(t, 300*time.Millisecond, exp.Delay(3))
	assert.Equal(t, 300*time.Millisecond, exp.Delay(4))
}
