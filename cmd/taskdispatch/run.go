package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/taskdispatch"
	"github.com/petrijr/taskdispatch/internal/broker"
	"github.com/petrijr/taskdispatch/internal/config"
	"github.com/petrijr/taskdispatch/internal/engine"
	"github.com/petrijr/taskdispatch/internal/telemetry"
	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/listener"
	"github.com/petrijr/taskdispatch/pkg/mapper"
	"github.com/petrijr/taskdispatch/pkg/worker"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher until interrupted",
		Long: `Start the worker pool and the command, outcome and signal consumers.

Example:
  TASKDISPATCH_BROKER=redis TASKDISPATCH_BROKER_DSN=redis://localhost:6379/0 taskdispatch run
  taskdispatch run --engine-url http://camunda:8080/engine-rest --workers 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runDispatcher(cmd.Context(), cfg)
		},
	}
}

func runDispatcher(parent context.Context, cfg config.Config) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdown(sctx); serr != nil {
			logger.Error("telemetry_shutdown_failed", slog.Any("error", serr))
		}
	}()

	m, err := mapper.New(cfg.BodyFormat)
	if err != nil {
		return err
	}

	b, err := broker.Open(ctx, cfg.Broker, cfg.BrokerDSN)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Error("broker_close_failed", slog.Any("error", cerr))
		}
	}()

	var restOpts []engine.RESTOption
	restOpts = append(restOpts, engine.WithLogger(logger))
	if cfg.EngineUser != "" {
		restOpts = append(restOpts, engine.WithBasicAuth(cfg.EngineUser, cfg.EnginePassword))
	}
	eng := engine.NewRESTClient(cfg.EngineURL, restOpts...)

	observer := api.NewCompositeObserver(api.NewLoggingObserver(logger), &api.BasicMetrics{})
	d := taskdispatch.New(newRegistry(logger), eng, b, dispatcherConfig(cfg),
		taskdispatch.WithLogger(logger),
		taskdispatch.WithObserver(observer),
		taskdispatch.WithMapper(m),
	)
	registerProcessors(d)

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	logger.InfoContext(ctx, "dispatcher_running",
		slog.String("engine", cfg.EngineURL),
		slog.String("broker", cfg.Broker),
	)

	<-ctx.Done()
	logger.Info("shutdown_requested")
	d.Stop()
	return nil
}

// dispatcherConfig maps the flat configuration onto the dispatcher's.
func dispatcherConfig(cfg config.Config) taskdispatch.Config {
	return taskdispatch.Config{
		Worker: worker.Config{
			WorkerID:     cfg.WorkerID,
			Workers:      cfg.Workers,
			BatchSize:    cfg.BatchSize,
			LockDuration: cfg.LockDuration,
			EmptyWait:    cfg.EmptyWait,
			FailureRetry: taskdispatch.ReportAttempts(cfg.FailAttempts).Every(cfg.FailCooldown).Policy(),
			UsePriority:  cfg.UsePriority,
		},
		Queues: taskdispatch.Queues{
			Commands:   cfg.CommandQueue,
			Outcomes:   cfg.OutcomeQueue,
			Signals:    cfg.SignalQueue,
			OutcomeDLQ: cfg.OutcomeDLQ,
			SignalDLQ:  cfg.SignalDLQ,
			CommandDLQ: cfg.CommandDLQ,
		},
		TypeHeader:  cfg.TypeHeader,
		ErrorHeader: cfg.ErrorHeader,
		SignalRetry: listener.SignalRetry{
			Header: cfg.RetryHeader,
			Max:    cfg.SignalRetryMax,
			Delay:  cfg.SignalRetryDelay,
		},
		Concurrency:          cfg.Concurrency,
		CommandMaxDeliveries: cfg.CommandMaxDeliveries,
		RedeliveryDelay:      cfg.RedeliveryDelay,
	}
}
