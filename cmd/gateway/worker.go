package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run delivery workers against the durable job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Queue.Backend == "memory" {
				return errMemoryQueueWorker
			}
			if concurrency <= 0 {
				concurrency = cfg.Queue.Workers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, "worker")
			if err != nil {
				return err
			}
			defer rt.close(context.WithoutCancel(ctx))

			log.Info().Int("concurrency", concurrency).Msg("workers started")
			return rt.pool(concurrency).Run(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of workers (default WORKER_CONCURRENCY)")
	return cmd
}
