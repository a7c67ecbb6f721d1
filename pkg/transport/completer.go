package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/schema"
)

// Completer is what business processors use to report the outcome of a
// command. Outcomes go to the completion listener through the outcomes
// queue; processors never call the engine themselves.
type Completer struct {
	sender   *Sender
	registry *schema.Registry
}

// NewCompleter returns a Completer publishing through sender, which must
// target the outcomes queue.
func NewCompleter(sender *Sender, registry *schema.Registry) *Completer {
	return &Completer{sender: sender, registry: registry}
}

// Complete reports cmd as done. Its free variables are sent to the engine.
func (c *Completer) Complete(ctx context.Context, cmd any) error {
	return c.sender.Send(ctx, cmd, WithStatus(api.StatusComplete))
}

// Fail reports cmd as failed with reason.
func (c *Completer) Fail(ctx context.Context, cmd any, reason string) error {
	return c.FailWithDetail(ctx, cmd, reason, "")
}

// FailWithDetail reports cmd as failed with reason and detail.
func (c *Completer) FailWithDetail(ctx context.Context, cmd any, reason, detail string) error {
	return c.sender.Send(ctx, cmd, WithStatus(api.StatusFail), WithReason(reason), WithDetail(detail))
}

// FailFromFields reports cmd as failed, taking reason and detail from its
// errorMessage and errorDetails fields. Multiple values are joined with "; ".
func (c *Completer) FailFromFields(ctx context.Context, cmd any) error {
	meta, err := c.registry.MetadataOf(cmd)
	if err != nil {
		return fmt.Errorf("transport: fail from fields: %w", err)
	}
	reason := strings.Join(meta.TextValues(cmd, schema.TagErrorMessage), "; ")
	detail := strings.Join(meta.TextValues(cmd, schema.TagErrorDetails), "; ")
	return c.FailWithDetail(ctx, cmd, reason, detail)
}

// SignalPublisher sends signal objects to the signal listener.
type SignalPublisher struct {
	sender   *Sender
	registry *schema.Registry
}

// NewSignalPublisher returns a publisher sending through sender, which must
// target the signals queue.
func NewSignalPublisher(sender *Sender, registry *schema.Registry) *SignalPublisher {
	return &SignalPublisher{sender: sender, registry: registry}
}

// Publish sends sig. Its type must be a registered signal.
func (p *SignalPublisher) Publish(ctx context.Context, sig any) error {
	meta, err := p.registry.MetadataOf(sig)
	if err != nil {
		return fmt.Errorf("transport: publish signal: %w", err)
	}
	if meta.Kind != schema.KindSignal {
		return fmt.Errorf("transport: %s is a %s, not a signal", meta.Name, meta.Kind)
	}
	return p.sender.Send(ctx, sig)
}
