// Agent chat HTTP handlers.
//
// These endpoints serve clients other than the messaging channel. Nothing is
// persisted; the caller sends the prior exchanges with every request.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/table-booking-gateway/internal/http/middleware"
	"github.com/tbourn/table-booking-gateway/internal/services"
)

// ndjsonContentType is the media type of the streaming endpoint.
const ndjsonContentType = "application/x-ndjson"

// HistoryItem is one prior exchange supplied by the client.
type HistoryItem struct {
	Query    string `json:"query" example:"Book a table at Luigi's"`
	Response string `json:"response" example:"For how many people?"`
}

// ChatRequest is the JSON payload of both chat endpoints.
type ChatRequest struct {
	// Query is the current user message. It must be non-blank.
	Query string `json:"query" binding:"required" example:"Two people, tomorrow at 19:00"`
	// ChatHistory lists prior exchanges, oldest first.
	ChatHistory []HistoryItem `json:"chat_history"`
	// UserID identifies the caller; it is passed to the booking tools.
	UserID string `json:"user_id" binding:"required" example:"user123"`
}

func (r ChatRequest) toService() services.ChatRequest {
	hist := make([]services.HistoryPair, 0, len(r.ChatHistory))
	for _, p := range r.ChatHistory {
		hist = append(hist, services.HistoryPair{Query: p.Query, Response: p.Response})
	}
	return services.ChatRequest{
		Query:       strings.TrimSpace(r.Query),
		ChatHistory: hist,
		UserID:      strings.TrimSpace(r.UserID),
	}
}

// bindChat decodes and validates a chat request, writing a 400 on failure.
func bindChat(c *gin.Context) (services.ChatRequest, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query and user_id are required")
		return services.ChatRequest{}, false
	}
	sr := req.toService()
	if sr.Query == "" || sr.UserID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query and user_id are required")
		return services.ChatRequest{}, false
	}
	return sr, true
}

// Chat godoc
// @ID          agentChat
// @Summary     Chat with the booking agent
// @Description Classifies the query and answers it, either with the booking agent or with a polite decline.
// @Description Internal failures degrade to a fixed apology with status 200.
// @Tags        Agent
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ChatRequest  true  "Chat payload"
//
// @Success     200  {object}  services.Reply
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Router      /agent/chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	req, okReq := bindChat(c)
	if !okReq {
		return
	}

	reply, err := h.convSvc.Chat(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query and user_id are required")
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Str("user", req.UserID).Msg("chat degraded to apology")
	}
	ok(c, http.StatusOK, reply)
}

// ChatStream godoc
// @ID          agentChatStream
// @Summary     Stream a chat turn
// @Description Same as /agent/chat but writes one JSON event per line as the agent works.
// @Description Event types: answer, tool_name, tool_arguments, tool_output, final_answer.
// @Tags        Agent
// @Accept      json
// @Produce     application/x-ndjson
//
// @Param       body  body  handlers.ChatRequest  true  "Chat payload"
//
// @Success     200  {object}  agent.Event  "One event per line"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Router      /agent/chat/stream [post]
func (h *Handlers) ChatStream(c *gin.Context) {
	req, okReq := bindChat(c)
	if !okReq {
		return
	}

	ctx := c.Request.Context()
	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	lg := middleware.LoggerFrom(c)
	// The server WriteTimeout would cut a long tool loop off mid-stream.
	// Each event instead gets a fresh window; test recorders don't support
	// deadlines and are left alone.
	extend := func() {
		if err := setWriteDeadline(c, time.Now().Add(h.streamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			lg.Debug().Err(err).Msg("stream write deadline not set")
		}
	}
	extend()

	enc := json.NewEncoder(c.Writer)
	events := 0
	for ev, err := range h.convSvc.ChatStream(ctx, req) {
		if err != nil {
			lg.Error().Err(err).Int("events", events).Msg("chat stream aborted")
			break
		}
		extend()
		if err := enc.Encode(ev); err != nil {
			lg.Warn().Err(err).Msg("chat stream write failed")
			break
		}
		c.Writer.Flush()
		events++
		// A client disconnect cancels ctx; the service stops on its own.
		if ctx.Err() != nil {
			break
		}
	}
	c.Writer.WriteHeaderNow()
}

type connKey struct{}

// ConnContext is an http.Server ConnContext hook exposing the raw connection
// to ChatStream, for writers that cannot be unwrapped to reach it.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

func setWriteDeadline(c *gin.Context, t time.Time) error {
	err := http.NewResponseController(c.Writer).SetWriteDeadline(t)
	if !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if conn, ok := c.Request.Context().Value(connKey{}).(net.Conn); ok {
		return conn.SetWriteDeadline(t)
	}
	return err
}
