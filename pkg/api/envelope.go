package api

import (
	"fmt"
	"strings"
)

// Status is the outcome a business processor reports for a command.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusFail     Status = "FAIL"
)

// ParseStatus parses the status header. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusComplete:
		return StatusComplete, nil
	case StatusFail:
		return StatusFail, nil
	}
	return "", fmt.Errorf("unknown outcome status %q", s)
}

// Fixed protocol header names.
const (
	HeaderStatus = "status"
	HeaderReason = "reason"
	HeaderDetail = "detail"

	// Broker scheduling headers. They are never copied onto a republished or
	// dead-lettered message.
	HeaderScheduledDelay = "AMQ_SCHEDULED_DELAY"
	HeaderScheduledID    = "AMQ_SCHEDULED_ID"
)

// Default names for the configurable headers.
const (
	DefaultTypeHeader  = "dispatcherType"
	DefaultErrorHeader = "dispatcherError"
	DefaultRetryHeader = "dispatcherRetry"
)

// Envelope is a command outcome as it crosses the transport.
type Envelope struct {
	Status   Status
	Reason   string
	Detail   string
	TypeName string
	Body     []byte
}

// CompleteEnvelope builds a COMPLETE outcome. It never carries a reason or
// detail.
func CompleteEnvelope(typeName string, body []byte) Envelope {
	return Envelope{Status: StatusComplete, TypeName: typeName, Body: body}
}

// FailEnvelope builds a FAIL outcome.
func FailEnvelope(typeName string, body []byte, reason, detail string) Envelope {
	return Envelope{Status: StatusFail, TypeName: typeName, Body: body, Reason: reason, Detail: detail}
}

// Headers renders the envelope as message headers. Empty values are left
// out, and reason/detail are only emitted for FAIL.
func (e Envelope) Headers(typeHeader string) map[string]string {
	h := make(map[string]string, 4)
	if e.TypeName != "" {
		h[typeHeader] = e.TypeName
	}
	if e.Status != "" {
		h[HeaderStatus] = string(e.Status)
	}
	if e.Status == StatusFail {
		if e.Reason != "" {
			h[HeaderReason] = e.Reason
		}
		if e.Detail != "" {
			h[HeaderDetail] = e.Detail
		}
	}
	return h
}

// EnvelopeFromHeaders reconstructs an outcome from a received message.
func EnvelopeFromHeaders(typeHeader string, headers map[string]string, body []byte) (Envelope, error) {
	st, err := ParseStatus(headers[HeaderStatus])
	if err != nil {
		return Envelope{}, err
	}
	if st == StatusComplete {
		return CompleteEnvelope(headers[typeHeader], body), nil
	}
	return FailEnvelope(headers[typeHeader], body, headers[HeaderReason], headers[HeaderDetail]), nil
}
