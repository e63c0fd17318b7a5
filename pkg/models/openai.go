package models

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAILLM struct {
	Client *openai.Client
}

func NewOpenAILLM(baseURL string) *OpenAILLM {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY") // fallback
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAILLM{Client: openai.NewClientWithConfig(cfg)}
}

// getOpenAIMimeType maps a normalized image MIME to what OpenAI accepts, or "".
func getOpenAIMimeType(mt string) string {
	switch strings.ToLower(strings.TrimSpace(mt)) {
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	case "image/png":
		return "image/png"
	case "image/gif":
		return "image/gif"
	case "image/webp":
		return "image/webp"
	default:
		return ""
	}
}

// openAIParts converts a message into OpenAI multi-content parts, keeping order.
func openAIParts(msg ChatMessage) ([]openai.ChatMessagePart, error) {
	parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case PartImage:
			mt := getOpenAIMimeType(p.MediaType)
			if mt == "" {
				return nil, &ValidationError{Field: "file", Reason: fmt.Sprintf("media type %q is not accepted by openai", p.MediaType)}
			}
			dataURL := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return parts, nil
}

// Invoke sends the envelope as one chat completion. top_k has no OpenAI equivalent.
func (o *OpenAILLM) Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error) {
	parts, err := openAIParts(env.Message())
	if err != nil {
		return nil, err
	}
	cfg := env.Config

	var msgs []openai.ChatCompletionMessage
	if sys := strings.TrimSpace(cfg.SystemPrompt); sys != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: openAITemperature(cfg.Temperature),
		TopP:        float32(cfg.TopP),
	})
	if err != nil {
		te := &TransportError{Provider: "openai", Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			te.StatusCode = apiErr.HTTPStatusCode
			te.Message = apiErr.Message
		}
		return nil, te
	}
	if len(resp.Choices) == 0 {
		return nil, &ParseError{Reason: "no choices in reply"}
	}
	return &InferenceResult{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
	}, nil
}

// openAITemperature keeps a requested 0 on the wire; go-openai omits a zero
// Temperature, which would fall back to the server default of 1.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

var _ Invoker = (*OpenAILLM)(nil)
