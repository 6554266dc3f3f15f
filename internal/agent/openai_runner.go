package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// OpenAIRunner drives a chat-completions tool loop: call the model, execute
// any requested tools, feed their outputs back, and repeat until the model
// answers without tool calls.
type OpenAIRunner struct {
	client        *openai.Client
	model         string
	instructions  string
	maxIterations int
}

// RunnerOption customizes an OpenAIRunner.
type RunnerOption func(*OpenAIRunner)

// WithInstructions overrides the system prompt.
func WithInstructions(s string) RunnerOption {
	return func(r *OpenAIRunner) { r.instructions = s }
}

// WithMaxIterations bounds the number of model calls per turn.
func WithMaxIterations(n int) RunnerOption {
	return func(r *OpenAIRunner) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// NewOpenAIRunner builds a runner for the given model.
func NewOpenAIRunner(client *openai.Client, model string, opts ...RunnerOption) *OpenAIRunner {
	r := &OpenAIRunner{
		client:        client,
		model:         model,
		instructions:  AgentInstructions,
		maxIterations: 8,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes the tool loop and returns the final answer.
func (r *OpenAIRunner) Run(ctx context.Context, transcript domain.Transcript, user tools.UserInfo, reg *tools.Registry) (Result, error) {
	msgs := r.messages(transcript)
	var res Result

	for i := 0; i < r.maxIterations; i++ {
		resp, err := r.client.CreateChatCompletion(ctx, r.request(msgs, reg))
		if err != nil {
			return res, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return res, ErrEmptyResponse
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			res.Answer = msg.Content
			return res, nil
		}

		msgs = append(msgs, msg)
		for _, tc := range msg.ToolCalls {
			out := reg.Execute(ctx, user, tc.Function.Name, tc.Function.Arguments)
			res.ToolCalls = append(res.ToolCalls, ToolInvocation{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Output:    out.Output,
				IsError:   out.IsError,
			})
			msgs = append(msgs, toolMessage(tc.ID, tc.Function.Name, out))
		}
	}
	return res, ErrMaxIterations
}

// RunStream executes the tool loop against the streaming API. Answer tokens
// are yielded as they arrive; each tool call yields its name, arguments and
// output; the stream ends with a final_answer event holding the whole reply.
func (r *OpenAIRunner) RunStream(ctx context.Context, transcript domain.Transcript, user tools.UserInfo, reg *tools.Registry) Stream {
	return SingleUse(func(yield func(Event, error) bool) {
		msgs := r.messages(transcript)

		for i := 0; i < r.maxIterations; i++ {
			content, calls, err := r.streamOnce(ctx, msgs, reg, yield)
			if err != nil {
				if !errors.Is(err, errStopped) {
					yield(Event{}, err)
				}
				return
			}
			if len(calls) == 0 {
				yield(Event{Type: EventFinalAnswer, Content: content}, nil)
				return
			}

			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
			for _, tc := range calls {
				if !yield(Event{Type: EventToolName, Content: tc.Function.Name}, nil) {
					return
				}
				if !yield(Event{Type: EventToolArguments, Content: tc.Function.Arguments}, nil) {
					return
				}
				out := reg.Execute(ctx, user, tc.Function.Name, tc.Function.Arguments)
				if !yield(Event{Type: EventToolOutput, Content: out.Output}, nil) {
					return
				}
				msgs = append(msgs, toolMessage(tc.ID, tc.Function.Name, out))
			}
		}
		yield(Event{}, ErrMaxIterations)
	})
}

// errStopped signals that the consumer stopped ranging over the stream.
var errStopped = errors.New("consumer stopped")

// streamOnce performs one streaming model call, forwarding answer tokens and
// reassembling tool-call deltas by index.
func (r *OpenAIRunner) streamOnce(
	ctx context.Context,
	msgs []openai.ChatCompletionMessage,
	reg *tools.Registry,
	yield func(Event, error) bool,
) (string, []openai.ToolCall, error) {
	stream, err := r.client.CreateChatCompletionStream(ctx, r.request(msgs, reg))
	if err != nil {
		return "", nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var (
		content strings.Builder
		byIndex = map[int]*openai.ToolCall{}
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("chat completion stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if !yield(Event{Type: EventAnswer, Content: delta.Content}, nil) {
				return "", nil, errStopped
			}
		}
		for pos, d := range delta.ToolCalls {
			idx := pos
			if d.Index != nil {
				idx = *d.Index
			}
			acc, ok := byIndex[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				byIndex[idx] = acc
			}
			if d.ID != "" {
				acc.ID = d.ID
			}
			if d.Function.Name != "" {
				acc.Function.Name += d.Function.Name
			}
			acc.Function.Arguments += d.Function.Arguments
		}
	}

	if len(byIndex) == 0 {
		return content.String(), nil, nil
	}
	idxs := make([]int, 0, len(byIndex))
	for i := range byIndex {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	calls := make([]openai.ToolCall, 0, len(idxs))
	for _, i := range idxs {
		calls = append(calls, *byIndex[i])
	}
	log.Debug().Int("tool_calls", len(calls)).Msg("agent stream requested tools")
	return content.String(), calls, nil
}

func (r *OpenAIRunner) request(msgs []openai.ChatCompletionMessage, reg *tools.Registry) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: msgs,
		Tools:    reg.Definitions(),
	}
}

func (r *OpenAIRunner) messages(transcript domain.Transcript) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	if r.instructions != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.instructions})
	}
	return append(out, toChatMessages(transcript)...)
}

// toChatMessages maps transcript turns onto chat roles.
func toChatMessages(transcript domain.Transcript) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, t := range transcript {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return out
}

func toolMessage(callID, name string, out tools.Result) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    out.Output,
		Name:       name,
		ToolCallID: callID,
	}
}
