// Package handlers exposes the gateway's HTTP endpoints:
//   - GET  /webhook                    (subscription handshake)
//   - POST /webhook                    (inbound channel events)
//   - POST /agent/chat                 (synchronous chat)
//   - POST /agent/chat/stream          (NDJSON streaming chat)
//   - GET  /users/{identifier}/messages (conversation history)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/table-booking-gateway/internal/agent"
	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/services"
)

//
// Service contracts (context-aware)
//

// WebhookService verifies subscriptions and accepts inbound events.
type WebhookService interface {
	// Verify returns the challenge to echo, or services.ErrVerification.
	Verify(mode, token, challenge string) (string, error)
	// Receive authenticates and enqueues one webhook delivery.
	Receive(ctx context.Context, rawBody []byte, signature string) (services.ReceiveResult, error)
}

// ConversationService answers chat API requests.
//
// Implementations must honor the provided context for cancellation.
type ConversationService interface {
	Chat(ctx context.Context, req services.ChatRequest) (services.Reply, error)
	ChatStream(ctx context.Context, req services.ChatRequest) agent.Stream
}

// HistoryService reads a channel user's stored conversation.
type HistoryService interface {
	Stats(ctx context.Context, identifier string) (services.HistoryStats, error)
	ListPage(ctx context.Context, identifier string, page, pageSize int) ([]domain.Message, int64, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	webhookSvc WebhookService
	convSvc    ConversationService
	histSvc    HistoryService

	streamWriteTimeout time.Duration
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithStreamWriteTimeout sets the per-event write window of the NDJSON
// stream. The server-wide WriteTimeout does not apply to that route.
func WithStreamWriteTimeout(d time.Duration) Option {
	return func(h *Handlers) {
		if d > 0 {
			h.streamWriteTimeout = d
		}
	}
}

// New constructs a Handlers bound to the given services.
func New(webhook WebhookService, conv ConversationService, hist HistoryService, opts ...Option) *Handlers {
	h := &Handlers{
		webhookSvc:         webhook,
		convSvc:            conv,
		histSvc:            hist,
		streamWriteTimeout: 2 * time.Minute,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}
