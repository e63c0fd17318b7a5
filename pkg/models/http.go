package models

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

// HTTPInvoker posts the messages-protocol body to a fixed endpoint, e.g. a gateway
// in front of the hosted model. The model id travels in a header.
type HTTPInvoker struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPInvoker creates an HTTPInvoker with a 120s timeout.
func NewHTTPInvoker(endpoint, apiKey string) *HTTPInvoker {
	return &HTTPInvoker{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, model string, env *Envelope) (*InferenceResult, error) {
	body, err := EncodeRequest(env)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Provider: "http", Message: "build request", Err: err}
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("Accept", mimeJSON)
	req.Header.Set("X-Model-Id", model)
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: "http", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: "http", StatusCode: resp.StatusCode, Message: "read reply", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Provider:   "http",
			StatusCode: resp.StatusCode,
			Message:    providerMessage(respBody),
			Err:        fmt.Errorf("post %s: %s", h.Endpoint, resp.Status),
		}
	}

	res, err := DecodeResponse(respBody)
	if err != nil {
		return nil, err
	}
	if res.Model == "" {
		res.Model = model
	}
	return res, nil
}

var _ Invoker = (*HTTPInvoker)(nil)
