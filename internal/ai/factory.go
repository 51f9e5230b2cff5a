package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/marcushq/marcus/internal/config"
)

// New builds the Enricher for the configured driver. An empty API key
// disables the LLM path entirely and every call takes the fallback.
func New(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Enricher, error) {
	if cfg.APIKey == "" {
		log.Info("ai enrichment disabled, using fallback templates")
		return NewFallbackEnricher(), nil
	}

	m, err := createModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return NewChatEnricher(m, cfg.Timeout.Duration(), log), nil
}

func createModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "anthropic":
		return newAnthropicModel(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout.Duration()), nil
	case "openai", "":
		modelConfig := &einoopenai.ChatModelConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		if cfg.BaseURL != "" {
			modelConfig.BaseURL = cfg.BaseURL
		}
		if cfg.Timeout.Duration() > 0 {
			modelConfig.Timeout = cfg.Timeout.Duration()
		}
		return einoopenai.NewChatModel(ctx, modelConfig)
	default:
		return nil, fmt.Errorf("unknown ai driver: %s", cfg.Driver)
	}
}
