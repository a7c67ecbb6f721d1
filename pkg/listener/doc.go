// Package listener applies messages coming back over the transport to the
// engine.
//
// CompletionListener consumes outcome messages (status COMPLETE or FAIL) and
// completes or fails the engine task they refer to. SignalListener consumes
// signal objects and fires them at the engine, requeueing failed deliveries
// a bounded number of times.
//
// Both listeners implement transport.Handler and are meant to run inside a
// transport.Container. A message they cannot apply is moved to their
// dead-letter queue, carrying its original headers (minus broker scheduling
// headers) and an error-description header, and is then acknowledged. Only
// a failure to publish to the dead-letter queue is returned, so that the
// broker redelivers the message.
package listener
