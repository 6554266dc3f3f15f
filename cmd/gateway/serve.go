package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/table-booking-gateway/internal/config"
	httpapi "github.com/tbourn/table-booking-gateway/internal/http"
	"github.com/tbourn/table-booking-gateway/internal/http/handlers"
	"github.com/tbourn/table-booking-gateway/internal/services"
)

const shutdownGrace = 15 * time.Second

func serveCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (webhook, agent chat, history)",
		Long:  "Run the HTTP API. With --workers N the delivery workers run in the same process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workers < 0 {
				workers = cfg.Queue.Workers
			}
			if cfg.Queue.Backend == "memory" && workers == 0 {
				return errMemoryQueueWorker
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "delivery workers to run in-process (-1 uses WORKER_CONCURRENCY)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, workers int) error {
	rt, err := openRuntime(ctx, cfg, "serve")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		rt.close(closeCtx)
	}()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Webhook:      services.NewWebhookService(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, rt.queue),
		Conversation: rt.conversation,
		History:      services.NewHistoryService(rt.db),
	}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ConnContext:       handlers.ConnContext,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).
			Bool("webhook_signature", cfg.WhatsApp.SignatureCheckEnabled()).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		log.Info().Msg("http server shutting down")
		return srv.Shutdown(shutCtx)
	})
	if workers > 0 {
		pool := rt.pool(workers)
		g.Go(func() error { return pool.Run(gctx) })
	}
	return g.Wait()
}
