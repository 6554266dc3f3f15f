package agent

import (
	"context"
	"strings"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// ScriptedCall is one tool invocation a ScriptedRunner performs.
type ScriptedCall struct {
	Name      string
	Arguments string
}

// ScriptedRunner is a deterministic Runner that performs a fixed list of tool
// calls against the real registry and then answers. It needs no model
// provider, which makes it the runner of choice for offline runs and tests.
//
// When Answer is empty the final answer is the output of the last call.
// A non-nil Err is returned before any tool is touched.
type ScriptedRunner struct {
	Calls  []ScriptedCall
	Answer string
	Err    error
}

func (s ScriptedRunner) Run(ctx context.Context, _ domain.Transcript, user tools.UserInfo, reg *tools.Registry) (Result, error) {
	if s.Err != nil {
		return Result{}, s.Err
	}
	var res Result
	for _, c := range s.Calls {
		out := reg.Execute(ctx, user, c.Name, c.Arguments)
		res.ToolCalls = append(res.ToolCalls, ToolInvocation{
			Name:      c.Name,
			Arguments: c.Arguments,
			Output:    out.Output,
			IsError:   out.IsError,
		})
	}
	res.Answer = s.answer(res.ToolCalls)
	return res, nil
}

func (s ScriptedRunner) RunStream(ctx context.Context, _ domain.Transcript, user tools.UserInfo, reg *tools.Registry) Stream {
	return SingleUse(func(yield func(Event, error) bool) {
		if s.Err != nil {
			yield(Event{}, s.Err)
			return
		}
		var done []ToolInvocation
		for _, c := range s.Calls {
			if ctx.Err() != nil {
				yield(Event{}, ctx.Err())
				return
			}
			if !yield(Event{Type: EventToolName, Content: c.Name}, nil) ||
				!yield(Event{Type: EventToolArguments, Content: c.Arguments}, nil) {
				return
			}
			out := reg.Execute(ctx, user, c.Name, c.Arguments)
			done = append(done, ToolInvocation{Name: c.Name, Output: out.Output})
			if !yield(Event{Type: EventToolOutput, Content: out.Output}, nil) {
				return
			}
		}

		answer := s.answer(done)
		for _, tok := range strings.SplitAfter(answer, " ") {
			if tok == "" {
				continue
			}
			if !yield(Event{Type: EventAnswer, Content: tok}, nil) {
				return
			}
		}
		yield(Event{Type: EventFinalAnswer, Content: answer}, nil)
	})
}

func (s ScriptedRunner) answer(calls []ToolInvocation) string {
	if s.Answer != "" || len(calls) == 0 {
		return s.Answer
	}
	return calls[len(calls)-1].Output
}
