package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/MimeLyc/batch-transcriber/internal/config"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "transcriber",
		Short:        "Batch audio transcription API and workers",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// setup loads configuration and installs the global logger. The returned
// context is cancelled on SIGINT or SIGTERM.
func setup() (context.Context, context.CancelFunc, *config.Config, func(), error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	level := log.ParseLevel(cfg.Log.Level)
	closeLog := func() {}
	if cfg.Log.File != "" {
		fl, err := log.NewFileLogger(cfg.Log.File, level)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		log.SetGlobal(fl.Logger)
		closeLog = func() { _ = fl.Close() }
	} else {
		log.InitLogger(level)
	}
	if level != log.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, cancel, cfg, closeLog, nil
}
