package models

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"
)

// AnthropicLLM invokes models through Anthropic's Messages API.
type AnthropicLLM struct {
	Client *anthropic.Client
}

// NewAnthropicLLM constructs a client. It reads ANTHROPIC_API_KEY from the env.
// baseURL may be empty to use the public endpoint.
func NewAnthropicLLM(baseURL string) *AnthropicLLM {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
		anthropicopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	cl := anthropic.NewClient(opts...)
	return &AnthropicLLM{Client: &cl}
}

func (a *AnthropicLLM) Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error) {
	msg := env.Message()
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case PartText:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case PartImage:
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, base64.StdEncoding.EncodeToString(p.Data)))
		}
	}

	cfg := env.Config
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(cfg.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(cfg.Temperature),
		TopP:        anthropic.Float(cfg.TopP),
		TopK:        anthropic.Int(int64(cfg.TopK)),
	}
	if sys := strings.TrimSpace(cfg.SystemPrompt); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	out, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, anthropicError(err)
	}

	text, found := "", false
	for _, cb := range out.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			text, found = tb.Text, true
			break
		}
	}
	if !found {
		return nil, &ParseError{Reason: "no text block in content"}
	}
	return &InferenceResult{
		Text:         text,
		InputTokens:  int(out.Usage.InputTokens),
		OutputTokens: int(out.Usage.OutputTokens),
		StopReason:   string(out.StopReason),
		Model:        string(out.Model),
	}, nil
}

func anthropicError(err error) error {
	te := &TransportError{Provider: "anthropic", Err: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		te.StatusCode = apiErr.StatusCode
		te.Message = gjson.Get(apiErr.RawJSON(), "error.message").String()
	}
	return te
}

var _ Invoker = (*AnthropicLLM)(nil)
