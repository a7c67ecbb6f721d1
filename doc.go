// Package taskdispatch bridges a workflow engine's external-task API to
// asynchronous business processors connected through a message queue.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Registry
//  2. Worker pool
//  3. Transport
//  4. Listeners
//  5. Dispatcher
//
// # Registry
//
// Command and signal types are plain structs. A command declares its engine
// topic with a TaskName method, a signal its name with SignalName, and
// fields are bound to task attributes and process variables with the
// "dispatch" struct tag:
//
//	type Invoice struct {
//		ID       string `dispatch:"id"`
//		WorkerID string `dispatch:"workerId"`
//		Amount   int64  `dispatch:"var"`
//	}
//
//	func (Invoice) TaskName() string { return "invoice" }
//
// Types are grouped into catalogs and registered on a Registry, which
// validates them, computes the claim topics and converts between engine
// variables and typed values.
//
// # Worker pool
//
// The pool runs a fixed number of loops. Each claims a batch of tasks across
// every registered topic, turns each task into its command and publishes
// it. When a task cannot be converted or published, the failure is reported
// to the engine with a bounded retry.
//
// # Transport
//
// Commands travel as messages with a type header. Business processors are
// registered per command type with Handle and report outcomes with the
// Completer; they never call the engine themselves.
//
// # Listeners
//
// The completion listener turns COMPLETE and FAIL outcomes into engine
// calls. The signal listener fires signals at the engine, requeueing
// rejected signals a bounded number of times. Messages that cannot be
// applied are dead-lettered with their original headers and an error
// header, ready for manual replay.
//
// # Dispatcher
//
// Dispatcher wires all of the above around one engine and one broker and
// starts and stops them together. NewLocal runs everything in-process on
// an in-memory engine and broker, which is the most convenient way to try
// processors out during development.
//
// Brokers are available for SQLite, Postgres, Redis and MongoDB, see
// OpenBroker.
package taskdispatch
