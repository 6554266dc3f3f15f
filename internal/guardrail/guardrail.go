// Package guardrail decides whether an inbound message is about restaurants
// and table booking before any tool-enabled reasoning runs.
package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/table-booking-gateway/internal/domain"
)

// Instructions is the classifier's system prompt.
const Instructions = "Check if the user is asking you about restaurant and table booking at a restaurant. " +
	`Respond only with a JSON object of the form {"is_table_booking": <boolean>, "reasoning": "<one sentence>"}.`

// ErrMalformedVerdict is returned when the model reply is not a usable verdict.
var ErrMalformedVerdict = errors.New("guardrail: malformed classifier output")

// Result is a classification verdict. It is never persisted.
type Result struct {
	InScope   bool   `json:"is_table_booking"`
	Reasoning string `json:"reasoning"`
}

// Classifier labels a transcript as in or out of scope.
type Classifier interface {
	Classify(ctx context.Context, transcript domain.Transcript) (Result, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, transcript domain.Transcript) (Result, error)

func (f ClassifierFunc) Classify(ctx context.Context, transcript domain.Transcript) (Result, error) {
	return f(ctx, transcript)
}

// Static returns a classifier that always yields the given verdict.
func Static(inScope bool, reasoning string) Classifier {
	return ClassifierFunc(func(context.Context, domain.Transcript) (Result, error) {
		return Result{InScope: inScope, Reasoning: reasoning}, nil
	})
}

// OpenAIClassifier asks a small model for a JSON verdict. Failures of the
// call or of decoding propagate to the caller; nothing is cached.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier builds a classifier backed by model.
func NewOpenAIClassifier(client *openai.Client, model string) *OpenAIClassifier {
	return &OpenAIClassifier{client: client, model: model}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, transcript domain.Transcript) (Result, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: Instructions})
	for _, t := range transcript {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("guardrail completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrMalformedVerdict
	}
	return ParseVerdict(resp.Choices[0].Message.Content)
}

// ParseVerdict decodes the classifier's JSON reply. The is_table_booking
// field is mandatory; reasoning is optional.
func ParseVerdict(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var v struct {
		InScope   *bool  `json:"is_table_booking"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if v.InScope == nil {
		return Result{}, fmt.Errorf("%w: missing is_table_booking", ErrMalformedVerdict)
	}
	return Result{InScope: *v.InScope, Reasoning: v.Reasoning}, nil
}
