// Package worker implements the polling worker pool that moves engine tasks
// onto the transport.
//
// A Pool runs a fixed number of goroutines. Each one loops:
//
//	claim a batch across all topics
//	  empty   → wait EmptyWait, claim again
//	  tasks   → for each task: build the command, Send it, claim again
//
// The topic list is computed from the schema registry once, before the
// workers start, and shared read-only by all of them.
//
// # Failures
//
// A claim that fails (engine unreachable, 5xx) is logged and treated as an
// empty cycle. A task that cannot be converted or sent is reported to the
// engine as a failure carrying the worker id and the error message; that
// report is retried under Config.FailureRetry. When the retries run out,
// the worker that hit them stops and the other workers keep running.
//
// # Shutdown
//
// Stop cancels the shared context and waits for every worker to return.
// The empty wait and the retry cooldown both observe the cancellation, so
// Stop returns promptly. Tasks claimed but not yet sent simply expire at the
// engine when their lock runs out.
package worker
