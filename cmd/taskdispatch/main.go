// Command taskdispatch runs the external-task dispatcher against a remote
// engine and a message broker.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskdispatch:", err)
		os.Exit(1)
	}
}
