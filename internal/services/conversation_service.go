// Package services – ConversationService
//
// ConversationService is the conversation orchestrator. It assembles bounded
// transcripts, runs the guardrail, and routes each turn either to the
// tool-augmented reasoning runner or to the fallback decliner, in synchronous
// or streaming mode.
//
// Observability: public methods are OpenTelemetry-instrumented. The query
// text itself is never attached to spans.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/table-booking-gateway/internal/agent"
	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/guardrail"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// ErrorMessage is the apology shown to a user when a turn cannot be answered.
const ErrorMessage = "We are facing an issue, please try after sometimes."

// ReplyTypeText is the only reply type produced in synchronous mode.
const ReplyTypeText = "text"

// Reply is the synchronous result of a turn.
type Reply struct {
	Type    string `json:"type" example:"text"`
	Content string `json:"content" example:"Booking confirmed at Luigi's for John on 2025-12-12 at 19:00 for 2 people."`
}

// HistoryPair is one client-supplied exchange from the chat API.
type HistoryPair struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// ConversationService routes turns between the guardrail, the runner and
// the decliner.
type ConversationService struct {
	Guardrail guardrail.Classifier
	Runner    agent.Runner
	Decliner  agent.Decliner
	Tools     *tools.Registry

	// HistoryLimit bounds the number of prior turns in a transcript.
	HistoryLimit int
}

// NewConversationService wires a service with the booking tool registry.
func NewConversationService(g guardrail.Classifier, r agent.Runner, d agent.Decliner, reg *tools.Registry, historyLimit int) *ConversationService {
	return &ConversationService{
		Guardrail:    g,
		Runner:       r,
		Decliner:     d,
		Tools:        reg,
		HistoryLimit: historyLimit,
	}
}

// BuildTranscript assembles persisted history, then client history, then
// query. Client pairs with a blank side are skipped whole. Prior turns are trimmed from the oldest end to at most limit, and
// an assistant turn orphaned at the front by the trim is dropped so a
// user/assistant pair is never split.
func BuildTranscript(persisted []domain.Message, client []HistoryPair, query string, limit int) domain.Transcript {
	prior := make(domain.Transcript, 0, len(persisted)+2*len(client))
	for _, m := range persisted {
		prior = append(prior, domain.Turn{Role: m.Role, Content: m.Content})
	}
	for _, p := range client {
		q, r := strings.TrimSpace(p.Query), strings.TrimSpace(p.Response)
		if q == "" || r == "" {
			continue // half a pair would break role alternation
		}
		prior = append(prior,
			domain.Turn{Role: domain.RoleUser, Content: q},
			domain.Turn{Role: domain.RoleAssistant, Content: r},
		)
	}

	if limit < 0 {
		limit = 0
	}
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	for len(prior) > 0 && prior[0].Role == domain.RoleAssistant {
		prior = prior[1:]
	}

	out := make(domain.Transcript, 0, len(prior)+1)
	out = append(out, prior...)
	return append(out, domain.Turn{Role: domain.RoleUser, Content: query})
}

// Classify runs the guardrail on transcript. Classifier failures are
// wrapped in ErrClassification.
func (s *ConversationService) Classify(ctx context.Context, transcript domain.Transcript) (guardrail.Result, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Classify",
		trace.WithAttributes(attribute.Int("transcript.turns", len(transcript))),
	)
	defer span.End()

	res, err := s.Guardrail.Classify(ctx, transcript)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return guardrail.Result{}, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	span.SetAttributes(attribute.Bool("guardrail.in_scope", res.InScope))
	return res, nil
}

// Respond produces one final reply. Out-of-scope turns go to the decliner
// and never reach the runner or its tools. When the runner fails the reply
// carries ErrorMessage and the returned error wraps ErrReasoning.
func (s *ConversationService) Respond(ctx context.Context, transcript domain.Transcript, verdict guardrail.Result, user tools.UserInfo) (Reply, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Respond",
		trace.WithAttributes(
			attribute.Bool("guardrail.in_scope", verdict.InScope),
			attribute.Int("transcript.turns", len(transcript)),
		),
	)
	defer span.End()

	query := strings.TrimSpace(transcript.Query())
	if query == "" {
		return Reply{}, ErrEmptyQuery
	}

	if !verdict.InScope {
		text, err := s.Decliner.Decline(ctx, query)
		if err != nil {
			return s.apology(span, user, err)
		}
		return Reply{Type: ReplyTypeText, Content: text}, nil
	}

	res, err := s.Runner.Run(ctx, transcript, user, s.Tools)
	if err != nil {
		return s.apology(span, user, err)
	}
	span.SetAttributes(attribute.Int("agent.tool_calls", len(res.ToolCalls)))
	return Reply{Type: ReplyTypeText, Content: res.Answer}, nil
}

func (s *ConversationService) apology(span trace.Span, user tools.UserInfo, cause error) (Reply, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "reasoning failed")
	log.Error().Err(cause).Str("user", user.UID).Msg("reasoning failed")
	return Reply{Type: ReplyTypeText, Content: ErrorMessage}, fmt.Errorf("%w: %w", ErrReasoning, cause)
}

// Stream is the streaming counterpart of Respond. Out-of-scope turns yield
// the decline text as one answer event followed by final_answer. A runner
// failure is logged and ends the stream with a final_answer carrying
// ErrorMessage. The stream stops early when ctx is cancelled.
func (s *ConversationService) Stream(ctx context.Context, transcript domain.Transcript, verdict guardrail.Result, user tools.UserInfo) agent.Stream {
	return agent.SingleUse(func(yield func(agent.Event, error) bool) {
		tr := otel.Tracer("services/ConversationService")
		ctx, span := tr.Start(ctx, "Stream",
			trace.WithAttributes(attribute.Bool("guardrail.in_scope", verdict.InScope)),
		)
		defer span.End()

		query := strings.TrimSpace(transcript.Query())
		if query == "" {
			yield(agent.Event{}, ErrEmptyQuery)
			return
		}

		if !verdict.InScope {
			text, err := s.Decliner.Decline(ctx, query)
			if err != nil {
				_, _ = s.apology(span, user, err)
				text = ErrorMessage
			}
			if !yield(agent.Event{Type: agent.EventAnswer, Content: text}, nil) {
				return
			}
			yield(agent.Event{Type: agent.EventFinalAnswer, Content: text}, nil)
			return
		}

		events := 0
		for ev, err := range s.Runner.RunStream(ctx, transcript, user, s.Tools) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				_, _ = s.apology(span, user, err)
				yield(agent.Event{Type: agent.EventFinalAnswer, Content: ErrorMessage}, nil)
				return
			}
			events++
			if !yield(ev, nil) {
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		span.SetAttributes(attribute.Int("stream.events", events))
	})
}

// ChatRequest is the input of the synchronous chat API.
type ChatRequest struct {
	Query       string
	ChatHistory []HistoryPair
	UserID      string
}

func (s *ConversationService) transcriptFor(req ChatRequest) domain.Transcript {
	return BuildTranscript(nil, req.ChatHistory, strings.TrimSpace(req.Query), s.HistoryLimit)
}

// Chat classifies and answers a request from the synchronous API. Any
// conversational failure degrades to ErrorMessage; the error is still
// returned for logging.
func (s *ConversationService) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Reply{}, ErrEmptyQuery
	}
	transcript := s.transcriptFor(req)
	user := tools.UserInfo{UID: req.UserID}

	verdict, err := s.Classify(ctx, transcript)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("guardrail failed")
		return Reply{Type: ReplyTypeText, Content: ErrorMessage}, err
	}
	return s.Respond(ctx, transcript, verdict, user)
}

// ChatStream is the streaming variant of Chat. Classification happens
// lazily, when the stream is first ranged over.
func (s *ConversationService) ChatStream(ctx context.Context, req ChatRequest) agent.Stream {
	return agent.SingleUse(func(yield func(agent.Event, error) bool) {
		if strings.TrimSpace(req.Query) == "" {
			yield(agent.Event{}, ErrEmptyQuery)
			return
		}
		transcript := s.transcriptFor(req)
		verdict, err := s.Classify(ctx, transcript)
		if err != nil {
			log.Error().Err(err).Str("user", req.UserID).Msg("guardrail failed")
			yield(agent.Event{Type: agent.EventFinalAnswer, Content: ErrorMessage}, nil)
			return
		}
		for ev, err := range s.Stream(ctx, transcript, verdict, tools.UserInfo{UID: req.UserID}) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	})
}
