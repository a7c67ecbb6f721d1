package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/taskdispatch"
	"github.com/petrijr/taskdispatch/pkg/schema"
)

// Greeting is the sample command served by the run command.
type Greeting struct {
	ID       string `dispatch:"id" json:"id"`
	WorkerID string `dispatch:"workerId" json:"workerId"`
	Name     string `dispatch:"var" json:"name"`
	Message  string `dispatch:"var" json:"message"`
}

func (Greeting) TaskName() string { return "greeting" }

// Approval is the sample signal accepted by the signal command.
type Approval struct {
	OrderKey string `dispatch:"businessKey" json:"orderKey"`
	Approver string `dispatch:"var" json:"approver"`
	Approved bool   `dispatch:"var" json:"approved"`
}

func (Approval) SignalName() string { return "approval" }

func newRegistry(logger *slog.Logger) *schema.Registry {
	r := schema.NewRegistry(schema.WithLogger(logger))
	r.Register(schema.NewCatalog("sample", Greeting{}, Approval{}))
	return r
}

// registerProcessors installs the processors of the sample catalog.
func registerProcessors(d *taskdispatch.Dispatcher) {
	taskdispatch.Handle(d, func(ctx context.Context, g *Greeting) error {
		if g.Name == "" {
			return d.Completer().Fail(ctx, g, "greeting has no name")
		}
		g.Message = fmt.Sprintf("Hello, %s", g.Name)
		return d.Completer().Complete(ctx, g)
	})
}
