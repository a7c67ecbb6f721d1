package transport

import (
	"context"
	"fmt"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/pkg/api"
)

// DeadLetter publishes the body of msg to queue with all of its headers
// except the broker scheduling headers, adding errorHeader set to the
// description of cause.
func DeadLetter(ctx context.Context, b broker.Broker, queue string, msg broker.Message, errorHeader string, cause error) error {
	headers := broker.CopyHeaders(msg.Headers, api.HeaderScheduledDelay, api.HeaderScheduledID)
	if cause != nil {
		headers[errorHeader] = cause.Error()
	}
	if err := b.Publish(ctx, queue, broker.NewMessage(msg.Body, headers)); err != nil {
		return fmt.Errorf("transport: dead-letter to %s: %w", queue, err)
	}
	return nil
}
