package provider

import (
	"fmt"

	"github.com/KafClaw/cadence/internal/config"
)

// Resolve builds the generator named by cfg.Kind, wrapped in a worker pool
// of cfg.Workers slots.
func Resolve(cfg config.ProviderConfig) (*Serialized, error) {
	var g Generator
	switch cfg.Kind {
	case "", config.ProviderOpenAI:
		g = NewOpenAIProvider(cfg.APIKey, cfg.APIBase, cfg.Model).WithSampling(cfg.MaxTokens, cfg.Temperature)
	case config.ProviderXAI:
		g = NewXAIProvider(cfg.APIKey, cfg.APIBase, cfg.Model).WithSampling(cfg.MaxTokens, cfg.Temperature)
	case config.ProviderLlamaCpp:
		g = NewLlamaCppProvider(cfg.APIBase, cfg.MaxTokens, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
	return NewSerialized(g, cfg.Workers), nil
}
