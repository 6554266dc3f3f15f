package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/table-booking-gateway/internal/agent"
	"github.com/tbourn/table-booking-gateway/internal/config"
	"github.com/tbourn/table-booking-gateway/internal/guardrail"
	"github.com/tbourn/table-booking-gateway/internal/queue"
	"github.com/tbourn/table-booking-gateway/internal/repo"
	"github.com/tbourn/table-booking-gateway/internal/services"
	"github.com/tbourn/table-booking-gateway/internal/tools"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "router.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
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
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v0",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil},
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		WhatsApp:    config.WhatsAppConfig{VerifyToken: "verify-me"},
	}
}

func newRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	reg := tools.BookingTools(tools.Options{})
	deps := Deps{
		Webhook:      services.NewWebhookService(cfg.WhatsApp.VerifyToken, "secret", queue.NewMemoryQueue(8)),
		Conversation: services.NewConversationService(guardrail.Static(false, ""), agent.ScriptedRunner{}, agent.TemplateDecliner{}, reg, 10),
		History:      services.NewHistoryService(db),
	}
	r := gin.New()
	RegisterRoutes(r, deps, cfg)
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newRouter(t, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("health json: %v", err)
	}
	if body["message"] != "ALL IS WELL" || body["status"] != float64(200) {
		t.Fatalf("unexpected health body: %v", body)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	if w = serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, httptest.NewRequest(http.MethodPost, "/health", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	if w = serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	r := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_WebhookMountedUnderBasePath(t *testing.T) {
	r := newRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v0/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)
	if w.Code != http.StatusOK || w.Body.String() != "42" {
		t.Fatalf("handshake: %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Encoding") != "" {
		t.Fatalf("webhook responses must not be compressed")
	}

	w = serve(r, httptest.NewRequest(http.MethodPost, "/api/v0/webhook", strings.NewReader(`{}`)))
	if w.Code != http.StatusForbidden {
		t.Fatalf("unsigned webhook must be rejected, got %d", w.Code)
	}
}

func TestRegisterRoutes_AgentRateLimitedAndNoStore(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r := newRouter(t, cfg)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v0/agent/chat", strings.NewReader(`{"query":"weather?","user_id":"u1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "u1")
		return serve(r, req)
	}

	w := post()
	if w.Code != http.StatusOK {
		t.Fatalf("first chat = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("agent replies must not be cached")
	}
	if w = post(); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second chat should be limited, got %d", w.Code)
	}

	// The webhook shares no bucket with the agent API.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v0/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1", nil)
		req.Header.Set("X-User-ID", "u1")
		if w = serve(r, req); w.Code != http.StatusOK {
			t.Fatalf("webhook must not be limited, got %d", w.Code)
		}
	}
}

func TestRegisterRoutes_HealthCompressed_HistoryNotFound(t *testing.T) {
	r := newRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	if w := serve(r, req); w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip on /health, got %q", w.Header().Get("Content-Encoding"))
	}

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v0/users/15550001/messages", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user expected 404, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r := newRouter(t, cfg)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/webhook") {
		t.Fatalf("swagger doc: %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func TestPipeline_RequestIDAndHSTS(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := serve(r, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS behind an https proxy")
	}
}
