package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/aggregate"
	"github.com/MimeLyc/batch-transcriber/internal/batch"
	"github.com/MimeLyc/batch-transcriber/internal/config"
	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	"github.com/MimeLyc/batch-transcriber/internal/httpapi"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/monitor"
	"github.com/MimeLyc/batch-transcriber/internal/persistence"
	"github.com/MimeLyc/batch-transcriber/pkg/icron"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stale job monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer cancel()
			defer closeLog()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := persistence.NewFileStore(cfg.Storage.DataRoot)
	if err != nil {
		return err
	}
	queue, err := persistence.NewSQLiteQueue(cfg.Broker.DSN, cfg.Broker.Queue)
	if err != nil {
		return err
	}
	defer queue.Close()

	lifecycle := jobs.NewLifecycle(store)
	batches := batch.NewManager(store, lifecycle, dispatch.NewGateway(queue, cfg.Broker.SubmitTimeout), cfg.Batch.MaxFilesDefault)
	groups := batch.NewGroupManager(store, lifecycle, batches)

	c := cron.New(cron.WithParser(icron.Parser))
	sweeper, err := monitor.NewStaleSweeper(queue, store, c, cfg.Monitor.SweepCron, cfg.Monitor.StaleAfter)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(batches, groups, aggregate.New(store),
		httpapi.WithEngineInfo(jobs.EngineInfo{
			Model:       cfg.Engine.Model,
			Device:      cfg.Engine.Device,
			ComputeType: cfg.Engine.ComputeType,
		}),
		httpapi.WithSweepSchedule(sweeper.NextRun),
		httpapi.WithQueueStats(queue),
	)
	return runWithComponents(ctx, cfg.HTTP.Addr, sweeper, c, srv)
}

// runWithComponents schedules the sweep, starts the cron and serves HTTP
// until ctx is cancelled or the listener fails.
func runWithComponents(ctx context.Context, addr string, sched scheduler, c cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	c.Start()
	defer func() {
		select {
		case <-c.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("cron jobs still running at shutdown")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP API listening on %s", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down HTTP API")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
