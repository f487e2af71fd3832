package llm

import (
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/triage-go/internal/config"
)

// NewClient creates an OpenAI-compatible client pointed at cfg.BaseURL.
// A positive cfg.Timeout caps every HTTP round trip.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(clientCfg)
}
