// Package worker turns queued inbound messages into delivered replies.
//
// Each job walks a fixed pipeline:
//
//	received → history_loaded → classified → responded → persisted → delivered
//
// Any error moves the job to failed and stops the pipeline. The exchange is
// committed before delivery is attempted, so a failed send never loses
// conversational context. Jobs for the same user are not serialized.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/table-booking-gateway/internal/channel/whatsapp"
	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/guardrail"
	"github.com/tbourn/table-booking-gateway/internal/queue"
	"github.com/tbourn/table-booking-gateway/internal/repo"
	"github.com/tbourn/table-booking-gateway/internal/services"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// Stage names a step of the per-job pipeline.
type Stage string

const (
	StageReceived      Stage = "received"
	StageHistoryLoaded Stage = "history_loaded"
	StageClassified    Stage = "classified"
	StageResponded     Stage = "responded"
	StagePersisted     Stage = "persisted"
	StageDelivered     Stage = "delivered"
	StageFailed        Stage = "failed"
)

// StageError reports the stage a job failed to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Conversation is the orchestrator surface the worker drives.
type Conversation interface {
	Classify(ctx context.Context, transcript domain.Transcript) (guardrail.Result, error)
	Respond(ctx context.Context, transcript domain.Transcript, verdict guardrail.Result, user tools.UserInfo) (services.Reply, error)
}

// Sender delivers a reply to the channel.
type Sender interface {
	SendText(ctx context.Context, to, body string) (whatsapp.SendResponse, error)
}

// Processor runs the pipeline for one job at a time. It holds no per-job
// state and may be shared by many goroutines.
type Processor struct {
	DB           *gorm.DB
	Conversation Conversation
	Sender       Sender
	HistoryLimit int
	Channel      string
}

// Process runs job through every stage. The returned error is a *StageError
// wrapping one of the services or whatsapp sentinels.
func (p *Processor) Process(ctx context.Context, job queue.Job) (err error) {
	start := time.Now()
	lg := log.With().Str("job_id", job.ID).Str("from", job.FromIdentifier).Int("attempt", job.Attempts).Logger()
	lg.Info().Str("stage", string(StageReceived)).Msg("job received")

	defer func() {
		jobDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			jobsProcessed.WithLabelValues(string(StageFailed)).Inc()
			return
		}
		jobsProcessed.WithLabelValues(string(StageDelivered)).Inc()
	}()

	fail := func(stage Stage, cause error) error {
		stageFailures.WithLabelValues(string(stage)).Inc()
		lg.Error().Err(cause).Str("stage", string(stage)).Msg("job failed")
		return &StageError{Stage: stage, Err: cause}
	}

	channel := p.Channel
	if channel == "" {
		channel = domain.ChannelWhatsApp
	}

	// No connection is held across the model calls; ingestion shares the pool.
	user, transcript, err := p.loadHistory(ctx, channel, job)
	if err != nil {
		return fail(StageHistoryLoaded, fmt.Errorf("%w: %w", services.ErrPersistence, err))
	}
	lg.Debug().Str("stage", string(StageHistoryLoaded)).Int("turns", len(transcript)).Msg("history loaded")

	verdict, err := p.Conversation.Classify(ctx, transcript)
	if err != nil {
		return fail(StageClassified, err)
	}
	lg.Info().Str("stage", string(StageClassified)).Bool("in_scope", verdict.InScope).Msg("classified")

	reply, err := p.Conversation.Respond(ctx, transcript, verdict, tools.UserInfo{UID: job.FromIdentifier})
	if err != nil {
		return fail(StageResponded, err)
	}

	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(ctx, tx, user.ID, domain.RoleUser, job.QueryText); err != nil {
			return err
		}
		_, err := repo.CreateMessage(ctx, tx, user.ID, domain.RoleAssistant, reply.Content)
		return err
	})
	if err != nil {
		return fail(StagePersisted, fmt.Errorf("%w: %w", services.ErrPersistence, err))
	}
	lg.Debug().Str("stage", string(StagePersisted)).Msg("exchange persisted")

	resp, err := p.Sender.SendText(ctx, job.FromIdentifier, reply.Content)
	if err != nil {
		return fail(StageDelivered, err)
	}
	lg.Info().Str("stage", string(StageDelivered)).Str("wamid", resp.MessageID()).Msg("reply delivered")
	return nil
}

// loadHistory resolves the sender and builds its transcript on one pinned
// connection, released before returning.
func (p *Processor) loadHistory(ctx context.Context, channel string, job queue.Job) (*domain.User, domain.Transcript, error) {
	var (
		user       *domain.User
		transcript domain.Transcript
	)
	err := p.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		u, err := repo.GetOrCreateUser(ctx, conn, channel, job.FromIdentifier)
		if err != nil {
			return err
		}
		prior, err := repo.RecentMessages(ctx, conn, u.ID, p.HistoryLimit)
		if err != nil {
			return err
		}
		user = u
		transcript = services.BuildTranscript(prior, nil, job.QueryText, p.HistoryLimit)
		return nil
	})
	return user, transcript, err
}
