package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/taskdispatch/internal/config"
)

// rootOptions holds the flags shared by every command. Flags override the
// TASKDISPATCH_* environment.
type rootOptions struct {
	engineURL    string
	broker       string
	brokerDSN    string
	workers      int
	batchSize    int
	lockDuration time.Duration
	bodyFormat   string
	logLevel     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "taskdispatch",
		Short: "Dispatch engine external tasks over a message queue",
		Long: `taskdispatch claims external tasks from a workflow engine, publishes them
as typed commands to a message queue and applies the outcomes and signals
that come back.

Settings are read from TASKDISPATCH_* environment variables; flags override
them.`,
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.engineURL, "engine-url", "", "engine REST base URL")
	f.StringVar(&opts.broker, "broker", "", "broker backend (memory|sqlite|postgres|redis|mongo)")
	f.StringVar(&opts.brokerDSN, "broker-dsn", "", "broker connection string")
	f.IntVar(&opts.workers, "workers", 0, "number of polling workers")
	f.IntVar(&opts.batchSize, "batch-size", 0, "tasks claimed per cycle")
	f.DurationVar(&opts.lockDuration, "lock-duration", 0, "engine lock duration of claimed tasks")
	f.StringVar(&opts.bodyFormat, "format", "", "message body format (json|xml|yaml)")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newSignalCommand(opts))
	cmd.AddCommand(newTopicsCommand(opts))

	return cmd
}

// load reads the environment, applies the flags the user set and validates
// the result.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("engine-url") {
		cfg.EngineURL = o.engineURL
	}
	if flags.Changed("broker") {
		cfg.Broker = o.broker
	}
	if flags.Changed("broker-dsn") {
		cfg.BrokerDSN = o.brokerDSN
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = o.batchSize
	}
	if flags.Changed("lock-duration") {
		cfg.LockDuration = o.lockDuration
	}
	if flags.Changed("format") {
		cfg.BodyFormat = o.bodyFormat
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
