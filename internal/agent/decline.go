package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// TemplateDecliner answers out-of-scope messages with a fixed sentence that
// quotes the query.
type TemplateDecliner struct{}

func (TemplateDecliner) Decline(_ context.Context, query string) (string, error) {
	return fmt.Sprintf(
		"Sorry, I can't help with %q because it is out of scope. I can only answer questions about restaurants and table bookings.",
		strings.TrimSpace(query),
	), nil
}

// OpenAIDecliner asks a model to phrase the refusal. When the model call
// fails it logs and falls back to the template, so an out-of-scope message
// always gets a reply.
type OpenAIDecliner struct {
	client   *openai.Client
	model    string
	fallback TemplateDecliner
}

// NewOpenAIDecliner builds a decliner backed by model.
func NewOpenAIDecliner(client *openai.Client, model string) *OpenAIDecliner {
	return &OpenAIDecliner{client: client, model: model}
}

func (d *OpenAIDecliner) Decline(ctx context.Context, query string) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: DeclineInstructions(query)},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err == nil && len(resp.Choices) > 0 && strings.TrimSpace(resp.Choices[0].Message.Content) != "" {
		return resp.Choices[0].Message.Content, nil
	}
	if err == nil {
		err = ErrEmptyResponse
	}
	log.Warn().Err(err).Msg("decline completion failed, using template")
	return d.fallback.Decline(ctx, query)
}
