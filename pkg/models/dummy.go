package models

import (
	"context"
	"fmt"
	"strings"
)

// DummyLLM is a lightweight invoker useful for local testing without API calls.
// It answers with the last non-empty prompt line and counts words as tokens.
type DummyLLM struct {
	Prefix string
}

func NewDummyLLM(prefix string) *DummyLLM {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyLLM{Prefix: prefix}
}

func (d *DummyLLM) Invoke(_ context.Context, model string, env *Envelope) (*InferenceResult, error) {
	msg := env.Message()
	prompt := msg.Text()

	lines := strings.Split(prompt, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if candidate != "" {
			last = candidate
			break
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	text := fmt.Sprintf("%s %s", d.Prefix, last)
	if n := len(msg.Images()); n > 0 {
		text = fmt.Sprintf("%s (%d images)", text, n)
	}

	return &InferenceResult{
		Text:         text,
		InputTokens:  len(strings.Fields(prompt)),
		OutputTokens: len(strings.Fields(text)),
		StopReason:   "end_turn",
		Model:        model,
	}, nil
}

var _ Invoker = (*DummyLLM)(nil)
