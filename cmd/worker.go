package main

import (
	"context"

	"github.com/MimeLyc/batch-transcriber/internal/config"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/persistence"
	"github.com/MimeLyc/batch-transcriber/internal/transcribe"
	"github.com/MimeLyc/batch-transcriber/internal/worker"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/spf13/cobra"
)

type pool interface {
	Start(ctx context.Context)
	Stop()
}

func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run transcription workers against the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer cancel()
			defer closeLog()
			if cmd.Flags().Changed("concurrency") {
				cfg.Worker.Concurrency = concurrency
			}
			return runWorker(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "number of jobs processed in parallel (overrides WORKER_CONCURRENCY)")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	engine, err := transcribe.NewWhisperCLI(transcribe.WhisperConfig{
		WhisperBin:   cfg.Engine.WhisperBin,
		FFmpegBin:    cfg.Engine.FFmpegBin,
		ModelPath:    cfg.Engine.ModelPath,
		VADModelPath: cfg.Engine.VADModelPath,
		Model:        cfg.Engine.Model,
		Device:       cfg.Engine.Device,
		ComputeType:  cfg.Engine.ComputeType,
		Threads:      cfg.Engine.Threads,
	})
	if err != nil {
		return err
	}

	store, err := persistence.NewFileStore(cfg.Storage.DataRoot)
	if err != nil {
		return err
	}
	queue, err := persistence.NewSQLiteQueue(cfg.Broker.DSN, cfg.Broker.Queue)
	if err != nil {
		return err
	}
	defer queue.Close()

	exec := worker.NewExecutor(jobs.NewLifecycle(store), store, engine, worker.WithJobTimeout(cfg.Engine.JobTimeout))
	p := worker.NewPool(queue, exec, cfg.Worker.Concurrency, cfg.Worker.PollInterval, cfg.Worker.ID)
	runPool(ctx, p)
	return nil
}

// runPool blocks until ctx is cancelled, then waits for running jobs.
func runPool(ctx context.Context, p pool) {
	p.Start(ctx)
	<-ctx.Done()
	log.Info("stopping workers, waiting for running jobs")
	p.Stop()
}
