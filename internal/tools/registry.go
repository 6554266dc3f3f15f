// Package tools implements the capabilities the booking agent may invoke
// while answering a user: reading the clock, checking availability, saving a
// booking and joining a waitlist.
//
// Tools share no mutable state. A Registry is built once at startup and is
// safe for concurrent use by many in-flight conversations.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// UserInfo identifies the end user a tool call is made on behalf of.
// For WhatsApp traffic UID is the sender's phone number.
type UserInfo struct {
	UID string `json:"uid"`
}

// Result is what a tool hands back to the model.
type Result struct {
	Output  string
	IsError bool
}

// NewResult wraps successful tool output.
func NewResult(out string) Result { return Result{Output: out} }

// ErrorResult wraps a failure the model should see and recover from, such as
// a missing argument.
func ErrorResult(format string, args ...any) Result {
	return Result{Output: "error: " + fmt.Sprintf(format, args...), IsError: true}
}

// Tool is a single callable capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() jsonschema.Definition
	Execute(ctx context.Context, user UserInfo, args json.RawMessage) Result
}

// Registry is an immutable, name-indexed set of tools.
type Registry struct {
	byName map[string]Tool
	names  []string
}

// NewRegistry indexes the given tools by name. Later tools with a duplicate
// name replace earlier ones.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, dup := r.byName[t.Name()]; !dup {
			r.names = append(r.names, t.Name())
		}
		r.byName[t.Name()] = t
	}
	sort.Strings(r.names)
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.byName[name]
	return t, ok
}

// Names lists registered tool names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Definitions renders the registry as chat-completion tool definitions.
func (r *Registry) Definitions() []openai.Tool {
	if r.Len() == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(r.names))
	for _, n := range r.names {
		t := r.byName[n]
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// Execute runs the named tool. Unknown tools and malformed arguments come
// back as error results rather than Go errors so the model can correct
// itself on the next iteration.
func (r *Registry) Execute(ctx context.Context, user UserInfo, name, args string) Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult("unknown tool %q", name)
	}
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return ErrorResult("arguments for %s are not valid JSON", name)
	}
	return t.Execute(ctx, user, json.RawMessage(args))
}
