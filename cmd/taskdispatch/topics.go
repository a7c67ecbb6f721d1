package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTopicsCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Print the topics the worker pool claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			topics := newRegistry(cfg.Logger(os.Stderr)).Topics(cfg.LockDuration)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(topics)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tLOCK (ms)\tVARIABLES")
			for _, t := range topics {
				fmt.Fprintf(w, "%s\t%d\t%s\n", t.TopicName, t.LockDuration, strings.Join(t.Variables, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the topics as JSON")
	return cmd
}
