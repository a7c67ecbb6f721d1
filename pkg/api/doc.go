// Package api holds the contracts shared by every part of the dispatcher:
// the engine interface and its wire DTOs, the outcome envelope exchanged over
// the transport, retry policies, and the Observer used for logging and
// metrics.
//
// # Engine
//
// Engine is the slice of the remote workflow engine the dispatcher talks to:
// fetch-and-lock, complete, failure and signal delivery. Every failed call
// surfaces a *RestError carrying the HTTP status code and the raw response
// body; IsNotFound recognises the 404 returned when a signal has no waiting
// execution.
//
// # Outcome envelope
//
// Business processors report the result of a command as an Envelope. The
// envelope travels as message headers next to the serialized command:
//
//   - the type header names the command type
//   - "status" is COMPLETE or FAIL
//   - "reason" and "detail" are only present on FAIL
//
// # Observability
//
// Observer receives poller and listener lifecycle events. LoggingObserver
// writes them through log/slog, BasicMetrics keeps counters, and
// NewCompositeObserver fans out to several observers.
package api
