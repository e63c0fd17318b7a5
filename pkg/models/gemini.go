package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ---------------------------- Google Gemini ----------------------------------

type GeminiLLM struct {
	Client *genai.Client
}

func NewGeminiLLM(ctx context.Context) (*GeminiLLM, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiLLM{Client: client}, nil
}

// sanitizeForGemini filters to image types Gemini accepts inline. "" means unsupported.
func sanitizeForGemini(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/png", "image/webp", "image/gif":
		return mt
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "image/jpeg"
	default:
		return ""
	}
}

// geminiParts converts a message into genai parts, keeping order.
func geminiParts(msg ChatMessage) ([]genai.Part, error) {
	parts := make([]genai.Part, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, genai.Text(p.Text))
		case PartImage:
			mt := sanitizeForGemini(p.MediaType)
			if mt == "" {
				return nil, &ValidationError{Field: "file", Reason: fmt.Sprintf("media type %q is not accepted by gemini", p.MediaType)}
			}
			parts = append(parts, genai.Blob{MIMEType: mt, Data: p.Data})
		}
	}
	return parts, nil
}

func (g *GeminiLLM) Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error) {
	parts, err := geminiParts(env.Message())
	if err != nil {
		return nil, err
	}

	cfg := env.Config
	gm := g.Client.GenerativeModel(model)
	gm.SetMaxOutputTokens(int32(cfg.MaxTokens))
	gm.SetTemperature(float32(cfg.Temperature))
	gm.SetTopP(float32(cfg.TopP))
	gm.SetTopK(int32(cfg.TopK))
	if sys := strings.TrimSpace(cfg.SystemPrompt); sys != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(sys)}}
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		te := &TransportError{Provider: "gemini", Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			te.StatusCode = gerr.Code
			te.Message = gerr.Message
		}
		return nil, te
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ParseError{Reason: "gemini: empty response"}
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return nil, &ParseError{Reason: "gemini: no text part in candidate"}
	}
	if resp.UsageMetadata == nil {
		return nil, &ParseError{Reason: "gemini: missing usage metadata"}
	}
	return &InferenceResult{
		Text:         b.String(),
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		StopReason:   cand.FinishReason.String(),
		Model:        model,
	}, nil
}

var _ Invoker = (*GeminiLLM)(nil)
