package agent

import (
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// NewOpenAIClient builds a chat-completions client. An empty baseURL keeps
// the public OpenAI endpoint; a non-zero timeout bounds every HTTP call.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return openai.NewClientWithConfig(cfg)
}
