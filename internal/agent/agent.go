// Package agent runs the tool-augmented reasoning step that turns a
// conversation transcript into a reply, and the out-of-scope responder used
// when the guardrail rejects a message.
//
// Two call shapes are supported by every Runner: Run returns the final answer
// once the tool loop settles, and RunStream yields incremental events
// (answer tokens, tool names, tool arguments, tool outputs, final answer) as
// a single-use iterator.
package agent

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// EventType tags a streamed event.
type EventType string

const (
	EventAnswer        EventType = "answer"
	EventToolName      EventType = "tool_name"
	EventToolArguments EventType = "tool_arguments"
	EventToolOutput    EventType = "tool_output"
	EventFinalAnswer   EventType = "final_answer"
)

// Event is one element of a response stream. It is also the NDJSON line
// shape written by the streaming HTTP endpoint.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// Stream is a lazy, finite sequence of events. A Stream may be ranged over
// once; later attempts yield ErrStreamConsumed.
type Stream = iter.Seq2[Event, error]

// ToolInvocation records one tool call made during a run.
type ToolInvocation struct {
	Name      string
	Arguments string
	Output    string
	IsError   bool
}

// Result is the outcome of a synchronous run.
type Result struct {
	Answer    string
	ToolCalls []ToolInvocation
}

var (
	// ErrStreamConsumed is yielded when a Stream is iterated a second time.
	ErrStreamConsumed = errors.New("agent: stream already consumed")
	// ErrMaxIterations is returned when the model keeps requesting tools past
	// the configured iteration budget.
	ErrMaxIterations = errors.New("agent: tool iteration limit reached")
	// ErrEmptyResponse is returned when the model produces no choices.
	ErrEmptyResponse = errors.New("agent: empty model response")
)

// Runner is the reasoning runtime. The transcript ends with the current user
// query; user identifies whom tool calls act for.
type Runner interface {
	Run(ctx context.Context, transcript domain.Transcript, user tools.UserInfo, reg *tools.Registry) (Result, error)
	RunStream(ctx context.Context, transcript domain.Transcript, user tools.UserInfo, reg *tools.Registry) Stream
}

// Decliner produces the reply for messages classified as out of scope.
type Decliner interface {
	Decline(ctx context.Context, query string) (string, error)
}

// SingleUse wraps seq so that only the first range over it runs.
func SingleUse(seq iter.Seq2[Event, error]) Stream {
	var used atomic.Bool
	return func(yield func(Event, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(Event{}, ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// Collect drains a stream and returns the events up to the first error.
func Collect(s Stream) ([]Event, error) {
	var out []Event
	for ev, err := range s {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}
