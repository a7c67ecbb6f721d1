// Package transport carries commands, outcomes and signals over the broker.
//
// A message is a serialized command body plus headers. The type header
// names the command's task (or signal) so the consumer can pick the Go type
// to decode into; outcome messages also carry a status header and, for
// failures only, reason and detail headers.
//
//	worker ──Send──▶ commands queue ──Receiver──▶ processors
//	processors ──Completer──▶ outcomes queue ──▶ completion listener
//	SignalPublisher ──▶ signals queue ──▶ signal listener
//
// Consumers run in a Container: a fixed number of goroutines that lease
// messages from one queue and hand them to a Handler. A message is acked
// only when the handler returns nil; otherwise it is nacked for redelivery,
// and once it has been delivered MaxDeliveries times it is moved to the
// container's dead-letter queue.
package transport
