package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/table-booking-gateway/internal/agent"
	"github.com/tbourn/table-booking-gateway/internal/channel/whatsapp"
	"github.com/tbourn/table-booking-gateway/internal/config"
	"github.com/tbourn/table-booking-gateway/internal/guardrail"
	"github.com/tbourn/table-booking-gateway/internal/observability"
	"github.com/tbourn/table-booking-gateway/internal/queue"
	"github.com/tbourn/table-booking-gateway/internal/repo"
	"github.com/tbourn/table-booking-gateway/internal/services"
	"github.com/tbourn/table-booking-gateway/internal/tools"
	"github.com/tbourn/table-booking-gateway/internal/worker"
)

// errMemoryQueueWorker is returned when a standalone worker is started with
// the in-process queue, which no other process can feed.
var errMemoryQueueWorker = errors.New("QUEUE_BACKEND=memory only works with serve --workers")

// runtime holds everything a command builds at startup and tears down at
// shutdown.
type runtime struct {
	cfg          config.Config
	db           *gorm.DB
	queue        queue.Queue
	conversation *services.ConversationService
	shutdownOTel observability.Shutdown
}

// openRuntime connects the database, tracing and the queue. role names the
// command for trace resources.
func openRuntime(ctx context.Context, cfg config.Config, role string) (*runtime, error) {
	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, Version, role)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}

	db, err := repo.Open(cfg.DatabaseURL)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin not installed")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = repo.Close(db)
		_ = shutdown(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rt := &runtime{cfg: cfg, db: db, shutdownOTel: shutdown}
	rt.queue = newQueue(cfg.Queue, db)
	rt.conversation = newConversation(cfg)
	return rt, nil
}

func newQueue(cfg config.QueueConfig, db *gorm.DB) queue.Queue {
	if cfg.Backend == "memory" {
		log.Warn().Msg("in-memory queue: jobs are lost on restart")
		return queue.NewMemoryQueue(1024)
	}
	return queue.NewGormQueue(db, queue.GormOptions{
		LeaseTimeout: cfg.LeaseTimeout,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
	})
}

// newConversation builds the model-backed orchestrator. The decliner falls
// back to its template when the model is unreachable.
func newConversation(cfg config.Config) *services.ConversationService {
	client := agent.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	return services.NewConversationService(
		guardrail.NewOpenAIClassifier(client, cfg.OpenAI.GuardrailModel),
		agent.NewOpenAIRunner(client, cfg.OpenAI.AgentModel, agent.WithMaxIterations(cfg.OpenAI.MaxIterations)),
		agent.NewOpenAIDecliner(client, cfg.OpenAI.DeclineModel),
		tools.BookingTools(tools.Options{}),
		cfg.HistoryLimit,
	)
}

// pool assembles the delivery workers over the runtime's queue.
func (rt *runtime) pool(concurrency int) *worker.Pool {
	sender := whatsapp.New(whatsapp.Config{
		BaseURL:       rt.cfg.WhatsApp.GraphAPIURL,
		AccessToken:   rt.cfg.WhatsApp.AccessToken,
		PhoneNumberID: rt.cfg.WhatsApp.PhoneNumberID,
		Timeout:       rt.cfg.WhatsApp.Timeout,
	})
	return &worker.Pool{
		Queue: rt.queue,
		Processor: &worker.Processor{
			DB:           rt.db,
			Conversation: rt.conversation,
			Sender:       sender,
			HistoryLimit: rt.cfg.HistoryLimit,
		},
		Concurrency: concurrency,
	}
}

// close releases the runtime. ctx bounds the span flush.
func (rt *runtime) close(ctx context.Context) {
	if mq, ok := rt.queue.(*queue.MemoryQueue); ok {
		mq.Close()
	}
	if err := repo.Close(rt.db); err != nil {
		log.Warn().Err(err).Msg("database close failed")
	}
	if err := rt.shutdownOTel(ctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown failed")
	}
}
