package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Options select and configure an Invoker.
type Options struct {
	Provider string // bedrock | http | anthropic | openai | gemini | ollama | dummy
	Region   string // bedrock only
	Endpoint string // http endpoint, or base URL override for anthropic/openai/ollama
	APIKey   string // http only; SDK providers read their own env keys
}

// NewInvoker returns a concrete Invoker for opts.Provider.
func NewInvoker(ctx context.Context, opts Options) (Invoker, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "bedrock":
		if opts.Region == "" {
			return nil, errors.New("bedrock provider requires a region")
		}
		return NewBedrockLLM(ctx, opts.Region)
	case "http":
		if opts.Endpoint == "" {
			return nil, errors.New("http provider requires an endpoint")
		}
		return NewHTTPInvoker(opts.Endpoint, opts.APIKey), nil
	case "anthropic", "claude":
		return NewAnthropicLLM(opts.Endpoint), nil
	case "openai":
		return NewOpenAILLM(opts.Endpoint), nil
	case "gemini", "google":
		return NewGeminiLLM(ctx)
	case "ollama":
		return NewOllamaLLM(opts.Endpoint)
	case "dummy":
		return NewDummyLLM(""), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", opts.Provider)
	}
}
