package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/pkg/mapper"
	"github.com/petrijr/taskdispatch/pkg/transport"
)

func newSignalCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signal <name> <json>",
		Short: "Publish a signal to the signal queue",
		Long: `Decode the JSON document into the signal type registered under name and
publish it to the signal queue, where a running dispatcher fires it.

Example:
  taskdispatch signal approval '{"orderKey":"order-1","approver":"ann","approved":true}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := cfg.Logger(os.Stderr)
			ctx := cmd.Context()

			registry := newRegistry(logger)
			meta, err := registry.LookupSignal(args[0])
			if err != nil {
				return err
			}
			sig := meta.New().Interface()
			if err := (mapper.JSON{}).Unmarshal([]byte(args[1]), sig); err != nil {
				return fmt.Errorf("signal %s: %w", args[0], err)
			}

			m, err := mapper.New(cfg.BodyFormat)
			if err != nil {
				return err
			}
			b, err := broker.Open(ctx, cfg.Broker, cfg.BrokerDSN)
			if err != nil {
				return err
			}
			defer b.Close()

			sender := transport.NewSender(b, registry, m, cfg.SignalQueue,
				transport.WithTypeHeader(cfg.TypeHeader),
				transport.WithLogger(logger),
			)
			if err := transport.NewSignalPublisher(sender, registry).Publish(ctx, sig); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published signal %s to %s\n", meta.Name, cfg.SignalQueue)
			return nil
		},
	}
}
