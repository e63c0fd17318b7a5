package models

import "context"

// InferenceResult is the unwrapped reply of a successful call.
type InferenceResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
	Model        string
}

// Invoker sends a composed envelope to a model endpoint.
// Failures are *TransportError or *ParseError; a failed call is never retried.
type Invoker interface {
	Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error)
}
