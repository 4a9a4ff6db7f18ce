package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
)

// ModelConfig selects an OpenAI-compatible chat completion endpoint.
type ModelConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIModel builds the production ChatModel. It returns (nil, nil) when
// no API key is configured so callers run fallback-only.
func NewOpenAIModel(ctx context.Context, cfg ModelConfig) (ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("summary: init model: %w", err)
	}
	return m, nil
}
