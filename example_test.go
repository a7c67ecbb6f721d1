package taskdispatch_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petrijr/taskdispatch"
)

type Greeting struct {
	ID       string `dispatch:"id" json:"id"`
	WorkerID string `dispatch:"workerId" json:"workerId"`
	Name     string `dispatch:"var" json:"name"`
	Message  string `dispatch:"var" json:"message"`
}

func (Greeting) TaskName() string { return "greeting" }

// Example_local demonstrates processing one engine task end to end with an
// in-process engine and broker.
func Example_local() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	registry := taskdispatch.NewRegistry()
	registry.Register(taskdispatch.NewCatalog("greetings", Greeting{}))

	cfg := taskdispatch.DefaultConfig()
	cfg.Worker.Workers = 1
	cfg.Worker.EmptyWait = 10 * time.Millisecond

	d, eng := taskdispatch.NewLocal(registry, cfg)
	taskdispatch.Handle(d, func(ctx context.Context, g *Greeting) error {
		g.Message = "Hello, " + g.Name
		return d.Completer().Complete(ctx, g)
	})

	eng.AddTask("greeting", "order-1", map[string]any{"name": "Gopher"})
	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer d.Stop()

	for len(eng.Completed()) == 0 {
		if ctx.Err() != nil {
			log.Fatal("task was not completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	done := eng.Completed()[0]
	fmt.Println(done.Variables["message"].Value)

	// Output:
	// Hello, Gopher
}
