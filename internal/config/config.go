// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the gateway settings:
// HTTP server limits, logging, database, model provider, WhatsApp Cloud API
// credentials, job queue tuning and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "table-booking-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// OpenAIConfig holds model provider settings used by the agent, the
// guardrail classifier and the out-of-scope responder.
type OpenAIConfig struct {
	APIKey         string // OPENAI_API_KEY
	BaseURL        string // OPENAI_BASE_URL (optional, for compatible gateways)
	AgentModel     string // OPENAI_AGENT_MODEL
	GuardrailModel string // OPENAI_GUARDRAIL_MODEL
	DeclineModel   string // OPENAI_DECLINE_MODEL, defaults to AgentModel
	MaxIterations  int    // AGENT_MAX_ITERATIONS, tool-call rounds per turn
	Timeout        time.Duration
}

// WhatsAppConfig holds Meta webhook and Graph API credentials.
type WhatsAppConfig struct {
	AppSecret     string        // APP_SECRET, HMAC key for X-Hub-Signature-256
	VerifyToken   string        // VERIFY_TOKEN, webhook subscription handshake
	AccessToken   string        // ACCESS_TOKEN, bearer for outbound sends
	PhoneNumberID string        // PHONE_NUMBER_ID
	GraphAPIURL   string        // GRAPH_API_URL
	Timeout       time.Duration // GRAPH_API_TIMEOUT
}

// QueueConfig tunes the job queue and the delivery workers.
type QueueConfig struct {
	Backend      string        // QUEUE_BACKEND: db|memory
	LeaseTimeout time.Duration // QUEUE_LEASE_TIMEOUT
	PollInterval time.Duration // QUEUE_POLL_INTERVAL
	MaxAttempts  int           // QUEUE_MAX_ATTEMPTS
	Workers      int           // WORKER_CONCURRENCY
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s (agent turns can be slow)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// StreamWriteTimeout replaces WriteTimeout on the NDJSON stream and is
	// renewed after every event, so only a stalled stream is cut off.
	StreamWriteTimeout time.Duration

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DatabaseURL  string // SQLite path or postgres:// DSN
	HistoryLimit int    // CHAT_HISTORY_LIMIT, prior messages fed to the agent

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Integrations
	OpenAI   OpenAIConfig
	WhatsApp WhatsAppConfig
	Queue    QueueConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		StreamWriteTimeout: getdur("STREAM_WRITE_TIMEOUT", 2*time.Minute),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v0")),

		// App
		DatabaseURL:  getenv("DATABASE_URL", "app.db"),
		HistoryLimit: getint("CHAT_HISTORY_LIMIT", 10),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OpenAI: OpenAIConfig{
			APIKey:         getenv("OPENAI_API_KEY", ""),
			BaseURL:        getenv("OPENAI_BASE_URL", ""),
			AgentModel:     getenv("OPENAI_AGENT_MODEL", "gpt-5-mini"),
			GuardrailModel: getenv("OPENAI_GUARDRAIL_MODEL", "gpt-5-nano"),
			DeclineModel:   getenv("OPENAI_DECLINE_MODEL", ""),
			MaxIterations:  getint("AGENT_MAX_ITERATIONS", 8),
			Timeout:        getdur("OPENAI_TIMEOUT", 45*time.Second),
		},

		WhatsApp: WhatsAppConfig{
			AppSecret:     getenv("APP_SECRET", ""),
			VerifyToken:   getenv("VERIFY_TOKEN", ""),
			AccessToken:   getenv("ACCESS_TOKEN", ""),
			PhoneNumberID: getenv("PHONE_NUMBER_ID", ""),
			GraphAPIURL:   strings.TrimRight(getenv("GRAPH_API_URL", "https://graph.facebook.com/v22.0"), "/"),
			Timeout:       getdur("GRAPH_API_TIMEOUT", 10*time.Second),
		},

		Queue: QueueConfig{
			Backend:      strings.ToLower(getenv("QUEUE_BACKEND", "db")),
			LeaseTimeout: getdur("QUEUE_LEASE_TIMEOUT", 2*time.Minute),
			PollInterval: getdur("QUEUE_POLL_INTERVAL", time.Second),
			MaxAttempts:  getint("QUEUE_MAX_ATTEMPTS", 3),
			Workers:      getint("WORKER_CONCURRENCY", 4),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "table-booking-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if strings.TrimSpace(cfg.OpenAI.DeclineModel) == "" {
		cfg.OpenAI.DeclineModel = cfg.OpenAI.AgentModel
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.StreamWriteTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.HistoryLimit < 0 {
		return cfg, errors.New("CHAT_HISTORY_LIMIT must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OpenAI.MaxIterations < 1 {
		return cfg, errors.New("AGENT_MAX_ITERATIONS must be >= 1")
	}
	if cfg.OpenAI.Timeout <= 0 || cfg.WhatsApp.Timeout <= 0 {
		return cfg, errors.New("OPENAI_TIMEOUT and GRAPH_API_TIMEOUT must be positive durations")
	}
	if !strings.HasPrefix(cfg.WhatsApp.GraphAPIURL, "http://") && !strings.HasPrefix(cfg.WhatsApp.GraphAPIURL, "https://") {
		return cfg, errors.New("GRAPH_API_URL must be an http(s) URL")
	}
	switch cfg.Queue.Backend {
	case "db", "memory":
	default:
		return cfg, errors.New("QUEUE_BACKEND must be one of: db, memory")
	}
	if cfg.Queue.LeaseTimeout <= 0 || cfg.Queue.PollInterval <= 0 {
		return cfg, errors.New("QUEUE_LEASE_TIMEOUT and QUEUE_POLL_INTERVAL must be positive durations")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.Workers < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// SignatureCheckEnabled reports whether inbound webhook bodies must carry a
// valid X-Hub-Signature-256 header.
func (w WhatsAppConfig) SignatureCheckEnabled() bool {
	return strings.TrimSpace(w.AppSecret) != ""
}

// IsPostgres reports whether DatabaseURL points at a PostgreSQL server.
func (c Config) IsPostgres() bool {
	u := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}
