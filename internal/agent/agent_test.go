package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

var testUser = tools.UserInfo{UID: "15550001111"}

func testRegistry() *tools.Registry {
	return tools.BookingTools(tools.Options{
		Now:  func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
		Intn: func(int) int { return 41 },
	})
}

func transcript(query string) domain.Transcript {
	return domain.Transcript{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello, how can I help?"},
		{Role: domain.RoleUser, Content: query},
	}
}

const bookingArgs = `{"restaurant_name":"Luigi's","date":"17/10/2026","time":"19:30","number_of_person":2,"customer_name":"Ana","customer_phone":"123"}`

func TestOpenAIRunner_Run_ExecutesToolsThenAnswers(t *testing.T) {
	fake, client := newFakeOpenAI(t,
		completion("", toolCall("call_1", "save_booking", bookingArgs)),
		completion("Your table is booked, reference #41."),
	)
	r := NewOpenAIRunner(client, "agent-model", WithMaxIterations(4))

	res, err := r.Run(context.Background(), transcript("book Luigi's"), testUser, testRegistry())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "Your table is booked, reference #41." {
		t.Fatalf("Answer = %q", res.Answer)
	}
	if len(res.ToolCalls) != 1 || !strings.Contains(res.ToolCalls[0].Output, "booking reference is #41") {
		t.Fatalf("unexpected tool calls: %+v", res.ToolCalls)
	}

	reqs := fake.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(reqs))
	}
	first := reqs[0]
	if first.Model != "agent-model" || len(first.Tools) != 4 {
		t.Fatalf("first request missing model/tools: model=%q tools=%d", first.Model, len(first.Tools))
	}
	if first.Messages[0].Role != openai.ChatMessageRoleSystem || first.Messages[0].Content != AgentInstructions {
		t.Fatalf("system prompt not first: %+v", first.Messages[0])
	}
	if last := first.Messages[len(first.Messages)-1]; last.Role != openai.ChatMessageRoleUser || last.Content != "book Luigi's" {
		t.Fatalf("query not last: %+v", last)
	}
	second := reqs[1].Messages
	toolMsg := second[len(second)-1]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool output not fed back: %+v", toolMsg)
	}
}

func TestOpenAIRunner_Run_IterationLimit(t *testing.T) {
	loop := completion("", toolCall("c", "fetch_current_date_time", "{}"))
	_, client := newFakeOpenAI(t, loop, loop, loop)
	r := NewOpenAIRunner(client, "m", WithMaxIterations(2))

	if _, err := r.Run(context.Background(), transcript("what time is it"), testUser, testRegistry()); !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
}

func TestOpenAIRunner_WithInstructions(t *testing.T) {
	fake, client := newFakeOpenAI(t, completion("ok"), completion("ok"))

	custom := NewOpenAIRunner(client, "m", WithInstructions("be brief"))
	if _, err := custom.Run(context.Background(), transcript("x"), testUser, testRegistry()); err != nil {
		t.Fatalf("run: %v", err)
	}
	none := NewOpenAIRunner(client, "m", WithInstructions(""))
	if _, err := none.Run(context.Background(), transcript("x"), testUser, testRegistry()); err != nil {
		t.Fatalf("run: %v", err)
	}

	reqs := fake.Requests()
	if first := reqs[0].Messages[0]; first.Role != openai.ChatMessageRoleSystem || first.Content != "be brief" {
		t.Fatalf("system prompt = %+v", first)
	}
	if first := reqs[1].Messages[0]; first.Role != openai.ChatMessageRoleUser {
		t.Fatalf("empty instructions should omit the system turn, got %+v", first)
	}
}

func TestOpenAIRunner_Run_ProviderError(t *testing.T) {
	fake, client := newFakeOpenAI(t)
	fake.status = 500
	r := NewOpenAIRunner(client, "m")

	if _, err := r.Run(context.Background(), transcript("x"), testUser, testRegistry()); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestOpenAIRunner_RunStream_ToolThenTokens(t *testing.T) {
	_, client := newFakeOpenAI(t,
		sse(
			openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "fetch_table_availability"}}}},
			openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"restaurant_name":"Luigi's","date":"17/10/2026",`}}}},
			openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `"time_window":["19:00","21:00"],"number_of_person":2}`}}}},
		),
		sse(
			openai.ChatCompletionStreamChoiceDelta{Content: "Seats "},
			openai.ChatCompletionStreamChoiceDelta{Content: "available."},
		),
	)
	r := NewOpenAIRunner(client, "m")

	events, err := Collect(r.RunStream(context.Background(), transcript("any seats?"), testUser, testRegistry()))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	wantTypes := []EventType{EventToolName, EventToolArguments, EventToolOutput, EventAnswer, EventAnswer, EventFinalAnswer}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %+v", events)
	}
	for i, w := range wantTypes {
		if events[i].Type != w {
			t.Fatalf("event %d type = %q; want %q", i, events[i].Type, w)
		}
	}
	if events[0].Content != "fetch_table_availability" {
		t.Fatalf("tool name = %q", events[0].Content)
	}
	if events[2].Content != "We have seats available at Luigi's for 17/10/2026." {
		t.Fatalf("tool output = %q", events[2].Content)
	}
	if events[5].Content != "Seats available." {
		t.Fatalf("final answer = %q", events[5].Content)
	}
}

func TestOpenAIRunner_RunStream_ConsumerStopsEarly(t *testing.T) {
	fake, client := newFakeOpenAI(t, sse(
		openai.ChatCompletionStreamChoiceDelta{Content: "a "},
		openai.ChatCompletionStreamChoiceDelta{Content: "b "},
		openai.ChatCompletionStreamChoiceDelta{Content: "c"},
	))
	r := NewOpenAIRunner(client, "m")

	n := 0
	for ev, err := range r.RunStream(context.Background(), transcript("x"), testUser, testRegistry()) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if ev.Type != EventAnswer {
			t.Fatalf("unexpected event %+v", ev)
		}
		n++
		break
	}
	if n != 1 || len(fake.Requests()) != 1 {
		t.Fatalf("expected one event and one call, got %d events and %d calls", n, len(fake.Requests()))
	}
}

func TestStream_IsSingleUse(t *testing.T) {
	s := ScriptedRunner{Answer: "ok"}.RunStream(context.Background(), transcript("x"), testUser, testRegistry())
	if _, err := Collect(s); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := Collect(s); !errors.Is(err, ErrStreamConsumed) {
		t.Fatalf("second pass: expected ErrStreamConsumed, got %v", err)
	}
}

func TestScriptedRunner_RunUsesRealToolsAndLastOutput(t *testing.T) {
	r := ScriptedRunner{Calls: []ScriptedCall{{Name: "save_booking", Arguments: bookingArgs}}}
	res, err := r.Run(context.Background(), transcript("book"), testUser, testRegistry())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(res.Answer, "Booking confirmed at Luigi's for Ana") {
		t.Fatalf("Answer = %q", res.Answer)
	}

	boom := errors.New("runtime down")
	if _, err := (ScriptedRunner{Err: boom}).Run(context.Background(), nil, testUser, testRegistry()); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
}

func TestScriptedRunner_StreamEndsWithFinalAnswer(t *testing.T) {
	r := ScriptedRunner{Calls: []ScriptedCall{{Name: "fetch_current_date_time", Arguments: "{}"}}, Answer: "It is morning."}
	events, err := Collect(r.RunStream(context.Background(), transcript("time?"), testUser, testRegistry()))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != EventFinalAnswer || last.Content != "It is morning." {
		t.Fatalf("last event = %+v", last)
	}
	if events[2].Type != EventToolOutput || events[2].Content != "Fri Oct 16 09:00:00 2026" {
		t.Fatalf("tool output event = %+v", events[2])
	}
}

func TestDecliners(t *testing.T) {
	msg, err := TemplateDecliner{}.Decline(context.Background(), " weather tomorrow? ")
	if err != nil || !strings.Contains(msg, `"weather tomorrow?"`) || !strings.Contains(msg, "out of scope") {
		t.Fatalf("template decline = %q, %v", msg, err)
	}

	fake, client := newFakeOpenAI(t, completion("I can only help with restaurant bookings."))
	d := NewOpenAIDecliner(client, "guard-model")
	got, err := d.Decline(context.Background(), "weather?")
	if err != nil || got != "I can only help with restaurant bookings." {
		t.Fatalf("openai decline = %q, %v", got, err)
	}
	if sys := fake.Requests()[0].Messages[0].Content; !strings.Contains(sys, `"weather?"`) {
		t.Fatalf("decline prompt does not quote query: %q", sys)
	}

	fake.status = 503
	got, err = d.Decline(context.Background(), "weather?")
	if err != nil || !strings.Contains(got, "out of scope") {
		t.Fatalf("expected template fallback, got %q, %v", got, err)
	}
}
