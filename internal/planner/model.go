package planner

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/codeagentd/internal/config"
)

// NewModel constructs the configured LLM backend. Provider API keys fall back
// to the providers' own environment variables when not set in config.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey.IsSet() {
			opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey.IsSet() {
			opts = append(opts, anthropic.WithToken(cfg.APIKey.Value()))
		}
		return anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (openai or anthropic)", cfg.Provider)
	}
}
