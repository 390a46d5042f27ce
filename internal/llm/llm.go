package llm

import (
	"context"
	"fmt"
	"time"

	"hrtrainer/internal/config"
)

// New builds the configured adapter and stacks tracing, rate limiting and
// the per-call timeout on top. A config without credentials yields Disabled.
func New(ctx context.Context, cfg config.AIConfig) (Port, error) {
	if !cfg.IsEnabled() {
		return Disabled{}, nil
	}

	var p Port
	switch cfg.Provider {
	case config.ProviderAzure:
		p = NewAzure(cfg)
	case config.ProviderOpenAI:
		p = NewOpenAI(cfg)
	case config.ProviderGemini:
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		p = g
	case config.ProviderOllama:
		o, err := NewOllama(cfg)
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		p = o
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}

	p = WithTimeout(p, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	p = WithRateLimit(p, cfg.RateLimit)
	return WithTracing(p), nil
}
