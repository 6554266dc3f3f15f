package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// fakeOpenAI serves scripted chat-completion replies in order and records
// every request it receives.
type fakeOpenAI struct {
	mu       sync.Mutex
	replies  []string // raw JSON bodies, or SSE bodies for streaming calls
	requests []openai.ChatCompletionRequest
	status   int
}

func newFakeOpenAI(t *testing.T, replies ...string) (*fakeOpenAI, *openai.Client) {
	t.Helper()
	f := &fakeOpenAI{replies: replies}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, NewOpenAIClient("sk-test", srv.URL+"/v1", 0)
}

func (f *fakeOpenAI) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var req openai.ChatCompletionRequest
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := f.status
	var reply string
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
		return
	}
	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = io.WriteString(w, reply)
}

func (f *fakeOpenAI) Requests() []openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), f.requests...)
}

func completion(content string, calls ...openai.ToolCall) string {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content, ToolCalls: calls}
	finish := openai.FinishReasonStop
	if len(calls) > 0 {
		finish = openai.FinishReasonToolCalls
	}
	b, _ := json.Marshal(openai.ChatCompletionResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Model:   "test-model",
		Choices: []openai.ChatCompletionChoice{{Index: 0, Message: msg, FinishReason: finish}},
	})
	return string(b)
}

func toolCall(id, name, args string) openai.ToolCall {
	return openai.ToolCall{ID: id, Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: name, Arguments: args}}
}

// sse renders streaming chunks followed by the [DONE] sentinel.
func sse(deltas ...openai.ChatCompletionStreamChoiceDelta) string {
	var b strings.Builder
	for _, d := range deltas {
		chunk, _ := json.Marshal(openai.ChatCompletionStreamResponse{
			ID:      "chatcmpl-test",
			Object:  "chat.completion.chunk",
			Model:   "test-model",
			Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: d}},
		})
		fmt.Fprintf(&b, "data: %s\n\n", chunk)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func intPtr(i int) *int { return &i }
