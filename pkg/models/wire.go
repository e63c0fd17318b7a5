package models

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Messages-protocol wire types.

type wireRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	System           string        `json:"system,omitempty"`
	Messages         []wireMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	TopK             int           `json:"top_k"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *wireSource `json:"source,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// EncodeRequest serializes env into the messages-protocol JSON body.
func EncodeRequest(env *Envelope) ([]byte, error) {
	if env == nil || len(env.Messages) == 0 {
		return nil, invalid("request", "no message to send")
	}
	version := env.Version
	if version == "" {
		version = ProtocolVersion
	}
	req := wireRequest{
		AnthropicVersion: version,
		MaxTokens:        env.Config.MaxTokens,
		System:           strings.TrimSpace(env.Config.SystemPrompt),
		Temperature:      env.Config.Temperature,
		TopP:             env.Config.TopP,
		TopK:             env.Config.TopK,
		Messages:         make([]wireMessage, 0, len(env.Messages)),
	}
	for _, m := range env.Messages {
		wm := wireMessage{Role: string(m.Role), Content: make([]wireBlock, 0, len(m.Parts))}
		for _, p := range m.Parts {
			switch p.Type {
			case PartText:
				wm.Content = append(wm.Content, wireBlock{Type: "text", Text: p.Text})
			case PartImage:
				wm.Content = append(wm.Content, wireBlock{
					Type: "image",
					Source: &wireSource{
						Type:      "base64",
						MediaType: p.MediaType,
						Data:      base64.StdEncoding.EncodeToString(p.Data),
					},
				})
			}
		}
		req.Messages = append(req.Messages, wm)
	}
	return json.Marshal(req)
}

// DecodeResponse unwraps a messages-protocol reply. The first text block and both
// usage counters must be present.
func DecodeResponse(body []byte) (*InferenceResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseError{Reason: "reply is not valid JSON", Body: body}
	}
	root := gjson.ParseBytes(body)

	content := root.Get("content")
	if !content.IsArray() {
		return nil, &ParseError{Reason: "missing content array", Body: body}
	}
	var (
		text  string
		found bool
	)
	for _, block := range content.Array() {
		if block.Get("type").String() != "text" {
			continue
		}
		t := block.Get("text")
		if !t.Exists() {
			continue
		}
		text, found = t.String(), true
		break
	}
	if !found {
		return nil, &ParseError{Reason: "no text block in content", Body: body}
	}

	in := root.Get("usage.input_tokens")
	out := root.Get("usage.output_tokens")
	if !in.Exists() || !out.Exists() {
		return nil, &ParseError{Reason: "missing usage counters", Body: body}
	}

	return &InferenceResult{
		Text:         text,
		InputTokens:  int(in.Int()),
		OutputTokens: int(out.Int()),
		StopReason:   root.Get("stop_reason").String(),
		Model:        root.Get("model").String(),
	}, nil
}

// providerMessage pulls the human-readable message out of an error body.
func providerMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"error.message", "message", "Message", "error"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
	}
	return strings.TrimSpace(string(body))
}
