package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/table-booking-gateway/internal/agent"
	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/guardrail"
	"github.com/tbourn/table-booking-gateway/internal/queue"
	"github.com/tbourn/table-booking-gateway/internal/repo"
	"github.com/tbourn/table-booking-gateway/internal/services"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// ---------- test plumbing ----------

const testSecret = "app-secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "handlers.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func bookingRegistry() *tools.Registry {
	return tools.BookingTools(tools.Options{
		Now:  func() time.Time { return time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC) },
		Intn: func(int) int { return 4821 },
	})
}

var bookingScript = agent.ScriptedRunner{Calls: []agent.ScriptedCall{
	{Name: "save_booking", Arguments: `{"restaurant_name":"Luigi's","date":"12/12/2025","time":"19:00","number_of_person":2,"customer_name":"John","customer_phone":"5551234"}`},
}}

// enqueueFailer always rejects jobs.
type enqueueFailer struct{}

func (enqueueFailer) Enqueue(context.Context, string, string) (queue.Handle, error) {
	return queue.Handle{}, errors.New("queue full")
}

type fixture struct {
	router *gin.Engine
	queue  *queue.MemoryQueue
	db     *gorm.DB
}

func newFixture(t *testing.T, g guardrail.Classifier, runner agent.Runner, enq services.Enqueuer) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mq := queue.NewMemoryQueue(16)
	if enq == nil {
		enq = mq
	}
	db := newTestDB(t)
	h := New(
		services.NewWebhookService("verify-me", testSecret, enq),
		services.NewConversationService(g, runner, agent.TemplateDecliner{}, bookingRegistry(), 10),
		services.NewHistoryService(db),
	)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Next()
	})
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.ReceiveWebhook)
	r.POST("/agent/chat", h.Chat)
	r.POST("/agent/chat/stream", h.ChatStream)
	r.GET("/users/:identifier/messages", h.ListMessages)
	return fixture{router: r, queue: mq, db: db}
}

func (f fixture) do(t *testing.T, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body is not JSON: %q", w.Body.String())
	}
	return er
}

func textPayload(from, body string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{"messages":[{"from":"` +
		from + `","id":"wamid.1","type":"text","text":{"body":"` + body + `"}}]}}]}]}`)
}

// ---------- webhook ----------

func TestVerifyWebhook(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)

	w := f.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != "1158201444" {
		t.Fatalf("handshake: %d %q", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("challenge must be plain text, got %q", w.Header().Get("Content-Type"))
	}

	for _, q := range []string{
		"hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1",
		"",
	} {
		w = f.do(t, http.MethodGet, "/webhook?"+q, nil, nil)
		if w.Code != http.StatusForbidden || decodeError(t, w).Code != ErrCodeForbidden {
			t.Fatalf("query %q: expected 403 forbidden, got %d %s", q, w.Code, w.Body.String())
		}
	}
}

func TestReceiveWebhook_SignedTextIsEnqueued(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)
	body := textPayload("15551234567", "Book a table for two")

	w := f.do(t, http.MethodPost, "/webhook", body, map[string]string{
		services.SignatureHeader: services.SignatureFor([]byte(testSecret), body),
	})
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", w.Code, w.Body.String())
	}
	if f.queue.Len() != 1 {
		t.Fatalf("expected one job, got %d", f.queue.Len())
	}
	job, err := f.queue.Dequeue(context.Background())
	if err != nil || job.FromIdentifier != "15551234567" || job.QueryText != "Book a table for two" {
		t.Fatalf("unexpected job %+v (%v)", job, err)
	}
}

func TestReceiveWebhook_Errors(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)
	body := textPayload("15551234567", "hi")

	w := f.do(t, http.MethodPost, "/webhook", body, map[string]string{services.SignatureHeader: "sha256=deadbeef"})
	if w.Code != http.StatusForbidden || decodeError(t, w).Code != ErrCodeForbidden {
		t.Fatalf("bad signature: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/webhook", body, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing signature: %d", w.Code)
	}
	if f.queue.Len() != 0 {
		t.Fatalf("rejected deliveries must not enqueue")
	}

	bad := []byte("{not json")
	w = f.do(t, http.MethodPost, "/webhook", bad, map[string]string{
		services.SignatureHeader: services.SignatureFor([]byte(testSecret), bad),
	})
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("malformed: %d %s", w.Code, w.Body.String())
	}

	_ = captureLogs(t)
	ff := newFixture(t, guardrail.Static(true, ""), bookingScript, enqueueFailer{})
	w = ff.do(t, http.MethodPost, "/webhook", body, map[string]string{
		services.SignatureHeader: services.SignatureFor([]byte(testSecret), body),
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("enqueue failure: %d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeEnqueueFailed || er.RequestID != "rid-test" {
		t.Fatalf("unexpected envelope %+v", er)
	}
}

// ---------- agent chat ----------

func chatBody(query, userID string, history ...HistoryItem) []byte {
	b, _ := json.Marshal(ChatRequest{Query: query, UserID: userID, ChatHistory: history})
	return b
}

func TestChat_InScopeRunsAgent(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)

	w := f.do(t, http.MethodPost, "/agent/chat", chatBody("Book Luigi's for two at 19:00", "u1",
		HistoryItem{Query: "hi", Response: "Hello! How can I help?"}), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var reply services.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("json: %v", err)
	}
	if reply.Type != services.ReplyTypeText || !strings.Contains(reply.Content, "#4821") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestChat_OutOfScopeDeclines(t *testing.T) {
	f := newFixture(t, guardrail.Static(false, "weather"), agent.ScriptedRunner{Err: errors.New("must not run")}, nil)

	w := f.do(t, http.MethodPost, "/agent/chat", chatBody("What's the weather?", "u1"), nil)
	var reply services.Reply
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	if w.Code != http.StatusOK || !strings.Contains(reply.Content, `"What's the weather?"`) {
		t.Fatalf("expected decline, got %d %+v", w.Code, reply)
	}
}

func TestChat_FailuresDegradeToApology(t *testing.T) {
	buf := captureLogs(t)
	failing := guardrail.ClassifierFunc(func(context.Context, domain.Transcript) (guardrail.Result, error) {
		return guardrail.Result{}, errors.New("model down")
	})
	f := newFixture(t, failing, bookingScript, nil)

	w := f.do(t, http.MethodPost, "/agent/chat", chatBody("Book a table", "u1"), nil)
	var reply services.Reply
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	if w.Code != http.StatusOK || reply.Content != services.ErrorMessage {
		t.Fatalf("expected apology, got %d %+v", w.Code, reply)
	}
	if !strings.Contains(buf.String(), "chat degraded to apology") {
		t.Fatalf("degradation must be logged: %s", buf.String())
	}
}

func TestChat_Validation(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)
	for name, body := range map[string][]byte{
		"no user":     chatBody("hi", ""),
		"blank query": chatBody("   ", "u1"),
		"not json":    []byte("nope"),
	} {
		for _, path := range []string{"/agent/chat", "/agent/chat/stream"} {
			w := f.do(t, http.MethodPost, path, body, nil)
			if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeBadRequest {
				t.Fatalf("%s %s: expected 400, got %d %s", name, path, w.Code, w.Body.String())
			}
		}
	}
}

func readEvents(t *testing.T, w *httptest.ResponseRecorder) []agent.Event {
	t.Helper()
	var out []agent.Event
	sc := bufio.NewScanner(bytes.NewReader(w.Body.Bytes()))
	for sc.Scan() {
		var ev agent.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestChatStream_NDJSON(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)

	w := f.do(t, http.MethodPost, "/agent/chat/stream", chatBody("Book Luigi's", "u1"), nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != ndjsonContentType {
		t.Fatalf("status=%d content-type=%q", w.Code, w.Header().Get("Content-Type"))
	}
	events := readEvents(t, w)
	if len(events) < 4 {
		t.Fatalf("expected tool events and a final answer, got %+v", events)
	}
	if events[0].Type != agent.EventToolName || events[0].Content != "save_booking" {
		t.Fatalf("first event should name the tool: %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != agent.EventFinalAnswer || !strings.Contains(last.Content, "#4821") {
		t.Fatalf("stream must end with the final answer: %+v", last)
	}
}

func TestChatStream_OutOfScope(t *testing.T) {
	f := newFixture(t, guardrail.Static(false, ""), bookingScript, nil)

	events := readEvents(t, f.do(t, http.MethodPost, "/agent/chat/stream", chatBody("Tell me a joke", "u1"), nil))
	if len(events) == 0 || events[len(events)-1].Type != agent.EventFinalAnswer {
		t.Fatalf("expected a final answer, got %+v", events)
	}
	for _, ev := range events {
		if ev.Type == agent.EventToolName {
			t.Fatalf("declined turn must not call tools: %+v", events)
		}
	}
}

// slowStream emits n events with a pause before each one.
type slowStream struct {
	n     int
	pause time.Duration
}

func (slowStream) Chat(context.Context, services.ChatRequest) (services.Reply, error) {
	return services.Reply{}, nil
}

func (s slowStream) ChatStream(ctx context.Context, _ services.ChatRequest) agent.Stream {
	return func(yield func(agent.Event, error) bool) {
		for i := 0; i < s.n; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pause):
			}
			typ := agent.EventToolOutput
			if i == s.n-1 {
				typ = agent.EventFinalAnswer
			}
			if !yield(agent.Event{Type: typ, Content: "step"}, nil) {
				return
			}
		}
	}
}

func TestChatStream_OutlivesServerWriteTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(nil, slowStream{n: 4, pause: 150 * time.Millisecond}, nil, WithStreamWriteTimeout(time.Second))
	r := gin.New()
	r.POST("/agent/chat/stream", h.ChatStream)

	srv := httptest.NewUnstartedServer(r)
	srv.Config.WriteTimeout = 250 * time.Millisecond
	srv.Config.ConnContext = ConnContext
	srv.Start()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/agent/chat/stream", "application/json", bytes.NewReader(chatBody("Book Luigi's", "u1")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var events []agent.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev agent.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("stream cut off after %d events: %v", len(events), err)
	}
	if len(events) != 4 || events[3].Type != agent.EventFinalAnswer {
		t.Fatalf("expected the whole stream, got %+v", events)
	}
}

// ---------- history ----------

func TestListMessages_ETagAndPagination(t *testing.T) {
	f := newFixture(t, guardrail.Static(true, ""), bookingScript, nil)
	ctx := context.Background()

	w := f.do(t, http.MethodGet, "/users/15550009999/messages", nil, nil)
	if w.Code != http.StatusNotFound || decodeError(t, w).Code != ErrCodeNotFound {
		t.Fatalf("unknown user: %d %s", w.Code, w.Body.String())
	}

	u, err := repo.GetOrCreateUser(ctx, f.db, domain.ChannelWhatsApp, "15550009999")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	for i, c := range []string{"hi", "hello", "a table", "how many?", "two"} {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if _, err := repo.CreateMessage(ctx, f.db, u.ID, role, c); err != nil {
			t.Fatalf("message: %v", err)
		}
	}

	w = f.do(t, http.MethodGet, "/users/15550009999/messages?page=2&page_size=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 5 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected pagination %+v", resp.Pagination)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Content != "a table" {
		t.Fatalf("page 2 must be oldest-first: %+v", resp.Messages)
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"messages:`) {
		t.Fatalf("missing weak ETag: %q", etag)
	}
	w = f.do(t, http.MethodGet, "/users/15550009999/messages", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}
