package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// ---------------------------- Ollama -----------------------------------------

type OllamaLLM struct {
	Client *ollama.Client
}

// NewOllamaLLM connects to host, or OLLAMA_HOST, or the local default.
func NewOllamaLLM(host string) (*OllamaLLM, error) {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}

	httpClient := &http.Client{
		Timeout: 300 * time.Second,
	}
	return &OllamaLLM{Client: ollama.NewClient(u, httpClient)}, nil
}

func (o *OllamaLLM) Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error) {
	cfg := env.Config
	msg := env.Message()

	var msgs []ollama.Message
	if sys := strings.TrimSpace(cfg.SystemPrompt); sys != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: sys})
	}
	user := ollama.Message{Role: string(RoleUser), Content: msg.Text()}
	for _, img := range msg.Images() {
		user.Images = append(user.Images, ollama.ImageData(img.Data))
	}
	msgs = append(msgs, user)

	stream := false
	req := &ollama.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": cfg.MaxTokens,
			"temperature": cfg.Temperature,
			"top_p":       cfg.TopP,
			"top_k":       cfg.TopK,
		},
	}

	var (
		text strings.Builder
		last ollama.ChatResponse
		seen bool
	)
	if err := o.Client.Chat(ctx, req, func(cr ollama.ChatResponse) error {
		text.WriteString(cr.Message.Content)
		last = cr
		seen = true
		return nil
	}); err != nil {
		return nil, ollamaError(err)
	}
	if !seen || !last.Done {
		return nil, &ParseError{Reason: "ollama: reply ended before done"}
	}

	return &InferenceResult{
		Text:         text.String(),
		InputTokens:  last.PromptEvalCount,
		OutputTokens: last.EvalCount,
		StopReason:   last.DoneReason,
		Model:        last.Model,
	}, nil
}

func ollamaError(err error) error {
	te := &TransportError{Provider: "ollama", Err: err}
	var se ollama.StatusError
	if errors.As(err, &se) {
		te.StatusCode = se.StatusCode
		te.Message = se.ErrorMessage
	}
	return te
}

var _ Invoker = (*OllamaLLM)(nil)
