package models

import (
	"math"
	"strings"
)

// ProtocolVersion is the fixed messages-protocol tag sent with every request.
const ProtocolVersion = "bedrock-2023-05-31"

// Role of a chat turn. Only user turns are composed here.
type Role string

const RoleUser Role = "user"

// PartType distinguishes message parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Image is a single image input ready to be attached to a message.
type Image struct {
	Name      string
	MediaType string
	Data      []byte
}

// Part is one ordered element of a chat message.
type Part struct {
	Type      PartType
	Text      string
	MediaType string // image parts only
	Data      []byte // raw image bytes; providers encode as they need
}

// ChatMessage is a single conversational turn.
type ChatMessage struct {
	Role  Role
	Parts []Part
}

// Text returns the concatenated text parts.
func (m ChatMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Images returns the image parts in message order.
func (m ChatMessage) Images() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartImage {
			out = append(out, p)
		}
	}
	return out
}

// GenerationConfig holds sampling controls for one request. It is a value:
// the caller owns the defaults and the core never writes to it.
type GenerationConfig struct {
	MaxTokens    int
	Temperature  float64
	TopP         float64
	TopK         int
	SystemPrompt string
}

// Validate checks the config bounds.
func (c GenerationConfig) Validate() error {
	if c.MaxTokens <= 0 {
		return invalid("max_tokens", "must be positive, got %d", c.MaxTokens)
	}
	if !inUnit(c.Temperature) {
		return invalid("temperature", "must be within [0,1], got %v", c.Temperature)
	}
	if !inUnit(c.TopP) {
		return invalid("top_p", "must be within [0,1], got %v", c.TopP)
	}
	if c.TopK < 0 {
		return invalid("top_k", "must not be negative, got %d", c.TopK)
	}
	return nil
}

func inUnit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

// Envelope is a composed request: message list, sampling config and protocol tag.
type Envelope struct {
	Version  string
	Config   GenerationConfig
	Messages []ChatMessage
}

// Message returns the single user message of the envelope.
func (e *Envelope) Message() ChatMessage {
	if e == nil || len(e.Messages) == 0 {
		return ChatMessage{}
	}
	return e.Messages[0]
}

type composeOptions struct {
	imagesFirst bool
	attached    string
}

// ComposeOption tweaks Compose.
type ComposeOption func(*composeOptions)

// WithImagesFirst places image parts before the text part.
func WithImagesFirst() ComposeOption {
	return func(o *composeOptions) { o.imagesFirst = true }
}

// WithAttachedText appends text pulled from uploaded files to the prompt,
// separated by a blank line. The prompt itself must still be non-blank.
func WithAttachedText(text string) ComposeOption {
	return func(o *composeOptions) { o.attached = text }
}

// ValidatePrompt rejects empty and whitespace-only prompts.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return invalid("prompt", "prompt text is empty")
	}
	return nil
}

// Compose builds the request envelope for one submission.
// It fails with a *ValidationError when the prompt is blank or the config is out of range.
func Compose(prompt string, images []Image, cfg GenerationConfig, opts ...ComposeOption) (*Envelope, error) {
	if err := ValidatePrompt(prompt); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o composeOptions
	for _, opt := range opts {
		opt(&o)
	}

	imageParts := make([]Part, 0, len(images))
	for _, img := range images {
		if len(img.Data) == 0 {
			return nil, &ValidationError{Field: "file", File: img.Name, Reason: "image is empty"}
		}
		imageParts = append(imageParts, Part{Type: PartImage, MediaType: img.MediaType, Data: img.Data})
	}
	if o.attached != "" {
		prompt += "\n\n" + o.attached
	}
	text := Part{Type: PartText, Text: prompt}

	parts := make([]Part, 0, len(imageParts)+1)
	if o.imagesFirst {
		parts = append(parts, imageParts...)
		parts = append(parts, text)
	} else {
		parts = append(parts, text)
		parts = append(parts, imageParts...)
	}

	return &Envelope{
		Version:  ProtocolVersion,
		Config:   cfg,
		Messages: []ChatMessage{{Role: RoleUser, Parts: parts}},
	}, nil
}
