package models

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

const okReply = `{"content":[{"type":"text","text":"OK"}],"usage":{"input_tokens":5,"output_tokens":2}}`

func defaultConfig() GenerationConfig {
	return GenerationConfig{MaxTokens: 2000, Temperature: 0.5, TopP: 0.999, TopK: 250}
}

func mustCompose(t *testing.T, prompt string, images ...Image) *Envelope {
	t.Helper()
	env, err := Compose(prompt, images, defaultConfig())
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	return env
}

func TestComposeRejectsBlankPrompt(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\n\t\n"} {
		env, err := Compose(prompt, nil, defaultConfig())
		if env != nil {
			t.Fatalf("expected no envelope for %q", prompt)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "prompt" {
			t.Fatalf("expected prompt ValidationError for %q, got %v", prompt, err)
		}
	}
}

func TestComposeBlankPromptNeverReachesInvoker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(okReply))
	}))
	defer srv.Close()

	if _, err := Compose(" ", nil, defaultConfig()); KindOf(err) != KindValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no calls, got %d", got)
	}
}

func TestComposeOrdersTextThenImages(t *testing.T) {
	imgs := []Image{
		{Name: "a.png", MediaType: "image/png", Data: []byte("a")},
		{Name: "b.jpg", MediaType: "image/jpeg", Data: []byte("b")},
	}
	env := mustCompose(t, "compare these", imgs...)

	if env.Version != ProtocolVersion {
		t.Fatalf("unexpected version %q", env.Version)
	}
	if len(env.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(env.Messages))
	}
	msg := env.Messages[0]
	if msg.Role != RoleUser {
		t.Fatalf("unexpected role %q", msg.Role)
	}
	if len(msg.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(msg.Parts))
	}
	if msg.Parts[0].Type != PartText || msg.Parts[0].Text != "compare these" {
		t.Fatalf("expected text first, got %+v", msg.Parts[0])
	}
	if string(msg.Parts[1].Data) != "a" || string(msg.Parts[2].Data) != "b" {
		t.Fatalf("image order not preserved")
	}
}

func TestComposeImagesFirst(t *testing.T) {
	env, err := Compose("describe", []Image{{MediaType: "image/png", Data: []byte("x")}}, defaultConfig(), WithImagesFirst())
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	parts := env.Message().Parts
	if parts[0].Type != PartImage || parts[1].Type != PartText {
		t.Fatalf("expected image then text, got %+v", parts)
	}
}

func TestComposeAttachedText(t *testing.T) {
	env, err := Compose("summarize", nil, defaultConfig(), WithAttachedText("a,b\n1,2"))
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if got := env.Message().Text(); got != "summarize\n\na,b\n1,2" {
		t.Fatalf("unexpected prompt text %q", got)
	}

	if _, err := Compose("  ", nil, defaultConfig(), WithAttachedText("file contents")); KindOf(err) != KindValidation {
		t.Fatalf("attached text must not satisfy a blank prompt, got %v", err)
	}
}

func TestGenerationConfigValidate(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*GenerationConfig)
		field string
	}{
		{"zero max tokens", func(c *GenerationConfig) { c.MaxTokens = 0 }, "max_tokens"},
		{"temperature above one", func(c *GenerationConfig) { c.Temperature = 1.2 }, "temperature"},
		{"negative top_p", func(c *GenerationConfig) { c.TopP = -0.1 }, "top_p"},
		{"negative top_k", func(c *GenerationConfig) { c.TopK = -1 }, "top_k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mut(&cfg)
			var ve *ValidationError
			if err := cfg.Validate(); !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected %s ValidationError, got %v", tc.field, err)
			}
		})
	}
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestEncodeRequestWireShape(t *testing.T) {
	cfg := defaultConfig()
	cfg.SystemPrompt = "You are an ad critic."
	env, err := Compose("analyze", []Image{{MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}, cfg)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	body, err := EncodeRequest(env)
	if err != nil {
		t.Fatalf("EncodeRequest returned error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got["anthropic_version"] != ProtocolVersion {
		t.Fatalf("missing version tag: %v", got["anthropic_version"])
	}
	if got["system"] != "You are an ad critic." {
		t.Fatalf("unexpected system: %v", got["system"])
	}
	if got["max_tokens"].(float64) != 2000 || got["top_k"].(float64) != 250 {
		t.Fatalf("unexpected sampling fields: %v", got)
	}
	content := got["messages"].([]any)[0].(map[string]any)["content"].([]any)
	if content[0].(map[string]any)["type"] != "text" {
		t.Fatalf("expected text block first")
	}
	src := content[1].(map[string]any)["source"].(map[string]any)
	if src["type"] != "base64" || src["media_type"] != "image/png" {
		t.Fatalf("unexpected image source: %v", src)
	}
	if src["data"] != base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}) {
		t.Fatalf("image data not base64 encoded")
	}
}

func TestEncodeRequestOmitsEmptySystem(t *testing.T) {
	body, err := EncodeRequest(mustCompose(t, "hi"))
	if err != nil {
		t.Fatalf("EncodeRequest returned error: %v", err)
	}
	if strings.Contains(string(body), `"system"`) {
		t.Fatalf("expected no system field: %s", body)
	}
}

func TestDecodeResponse(t *testing.T) {
	res, err := DecodeResponse([]byte(okReply))
	if err != nil {
		t.Fatalf("DecodeResponse returned error: %v", err)
	}
	if res.Text != "OK" || res.InputTokens != 5 || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecodeResponseParseErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing content", `{"usage":{"input_tokens":1,"output_tokens":1}}`},
		{"no text block", `{"content":[{"type":"tool_use"}],"usage":{"input_tokens":1,"output_tokens":1}}`},
		{"missing usage", `{"content":[{"type":"text","text":"hi"}]}`},
		{"partial usage", `{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := DecodeResponse([]byte(tc.body))
			if res != nil {
				t.Fatalf("expected no result, got %+v", res)
			}
			if KindOf(err) != KindParse {
				t.Fatalf("expected parse error, got %v", err)
			}
		})
	}
}

func TestHTTPInvokerSuccess(t *testing.T) {
	var gotModel string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotModel = r.Header.Get("X-Model-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okReply))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "")
	res, err := inv.Invoke(context.Background(), "anthropic.claude-3-haiku-20240307-v1:0", mustCompose(t, "hello"))
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "OK" || res.InputTokens != 5 || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Model != "anthropic.claude-3-haiku-20240307-v1:0" || gotModel != res.Model {
		t.Fatalf("model not forwarded: header=%q result=%q", gotModel, res.Model)
	}
	if gotBody["anthropic_version"] != ProtocolVersion {
		t.Fatalf("server did not receive version tag: %v", gotBody)
	}
}

func TestHTTPInvokerTransportErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"client error", http.StatusBadRequest, `{"message":"max_tokens: must be greater than 0"}`, "max_tokens: must be greater than 0"},
		{"auth error", http.StatusForbidden, `{"type":"error","error":{"type":"permission_error","message":"access denied"}}`, "access denied"},
		{"server error", http.StatusServiceUnavailable, `{"message":"model is overloaded"}`, "model is overloaded"},
		{"plain body", http.StatusBadGateway, `upstream timeout`, "upstream timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res, err := NewHTTPInvoker(srv.URL, "").Invoke(context.Background(), "m", mustCompose(t, "hello"))
			if res != nil {
				t.Fatalf("expected no partial result, got %+v", res)
			}
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransportError, got %v", err)
			}
			if te.StatusCode != tc.status || te.Message != tc.message {
				t.Fatalf("unexpected transport error: status=%d message=%q", te.StatusCode, te.Message)
			}
			if got := atomic.LoadInt32(&calls); got != 1 {
				t.Fatalf("expected exactly one attempt, got %d", got)
			}
		})
	}
}

func TestHTTPInvokerMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPInvoker(srv.URL, "").Invoke(context.Background(), "m", mustCompose(t, "hello"))
	if KindOf(err) != KindParse {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestHTTPInvokerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPInvoker(url, "").Invoke(context.Background(), "m", mustCompose(t, "hello"))
	if KindOf(err) != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

type fakeBedrock struct {
	calls int
	input *bedrockruntime.InvokeModelInput
	body  []byte
	err   error
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls++
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockInvoke(t *testing.T) {
	fake := &fakeBedrock{body: []byte(okReply)}
	llm := &BedrockLLM{Client: fake, Region: "us-east-1"}

	res, err := llm.Invoke(context.Background(), "anthropic.claude-3-sonnet-20240229-v1:0", mustCompose(t, "hello"))
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "OK" || res.InputTokens != 5 || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if *fake.input.ModelId != "anthropic.claude-3-sonnet-20240229-v1:0" {
		t.Fatalf("unexpected model id %q", *fake.input.ModelId)
	}
	if !strings.Contains(string(fake.input.Body), `"anthropic_version":"bedrock-2023-05-31"`) {
		t.Fatalf("body missing version tag: %s", fake.input.Body)
	}
}

func TestBedrockInvokeClientError(t *testing.T) {
	fake := &fakeBedrock{err: &smithy.GenericAPIError{
		Code:    "AccessDeniedException",
		Message: "You don't have access to the model with the specified model ID.",
	}}
	llm := &BedrockLLM{Client: fake}

	res, err := llm.Invoke(context.Background(), "m", mustCompose(t, "hello"))
	if res != nil {
		t.Fatalf("expected no result")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Message != "You don't have access to the model with the specified model ID." {
		t.Fatalf("provider message lost: %q", te.Message)
	}
	if fake.calls != 1 {
		t.Fatalf("expected one call, got %d", fake.calls)
	}
}

func TestAnthropicInvoke(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku-20240307",` +
			`"content":[{"type":"text","text":"OK"}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	llm := NewAnthropicLLM(srv.URL)
	env := mustCompose(t, "hello", Image{MediaType: "image/png", Data: []byte("png")})
	res, err := llm.Invoke(context.Background(), "claude-3-haiku-20240307", env)
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "OK" || res.InputTokens != 5 || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	content := gotBody["messages"].([]any)[0].(map[string]any)["content"].([]any)
	if len(content) != 2 || content[1].(map[string]any)["type"] != "image" {
		t.Fatalf("unexpected content sent: %v", content)
	}
}

func TestAnthropicInvokeError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"internal failure"}}`))
	}))
	defer srv.Close()
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	_, err := NewAnthropicLLM(srv.URL).Invoke(context.Background(), "claude", mustCompose(t, "hello"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", te.StatusCode)
	}
	if !strings.Contains(te.Error(), "internal failure") {
		t.Fatalf("provider message lost: %v", te)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one attempt, got %d", got)
	}
}

func TestOpenAIInvoke(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"OK"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.SystemPrompt = "be brief"
	env, err := Compose("hello", []Image{{MediaType: "image/jpeg", Data: []byte("jpg")}}, cfg)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	res, err := NewOpenAILLM(srv.URL+"/v1").Invoke(context.Background(), "gpt-4o", env)
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "OK" || res.InputTokens != 5 || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	msgs := gotBody["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("expected system then user messages: %v", msgs)
	}
}

func TestOpenAIInvokeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAILLM(srv.URL+"/v1").Invoke(context.Background(), "gpt-4o", mustCompose(t, "hello"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusUnauthorized || te.Message != "Incorrect API key provided" {
		t.Fatalf("unexpected transport error: %+v", te)
	}
}

func TestOpenAIInvokeKeepsZeroTemperature(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"OK"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.Temperature = 0
	env, err := Compose("hello", nil, cfg)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if _, err := NewOpenAILLM(srv.URL+"/v1").Invoke(context.Background(), "gpt-4o", env); err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	temp, ok := gotBody["temperature"].(float64)
	if !ok || temp <= 0 || temp > 1e-6 {
		t.Fatalf("expected a near-zero temperature on the wire, got %v", gotBody["temperature"])
	}
}

func TestOpenAIPartsRejectsUnsupportedImage(t *testing.T) {
	msg := ChatMessage{Role: RoleUser, Parts: []Part{{Type: PartImage, MediaType: "image/tiff", Data: []byte("x")}}}
	if _, err := openAIParts(msg); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOllamaInvoke(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"OK"},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":2}` + "\n"))
	}))
	defer srv.Close()

	llm, err := NewOllamaLLM(srv.URL)
	if err != nil {
		t.Fatalf("NewOllamaLLM returned error: %v", err)
	}
	res, err := llm.Invoke(context.Background(), "llava", mustCompose(t, "hello", Image{MediaType: "image/png", Data: []byte("png")}))
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "OK" || res.InputTokens != 5 || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	msgs := gotBody["messages"].([]any)
	images := msgs[len(msgs)-1].(map[string]any)["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("expected one image sent, got %v", images)
	}
}

func TestGeminiPartsKeepOrder(t *testing.T) {
	msg := ChatMessage{Role: RoleUser, Parts: []Part{
		{Type: PartText, Text: "describe"},
		{Type: PartImage, MediaType: "image/jpg", Data: []byte("j")},
	}}
	parts, err := geminiParts(msg)
	if err != nil {
		t.Fatalf("geminiParts returned error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if got := sanitizeForGemini("IMAGE/JPG"); got != "image/jpeg" {
		t.Fatalf("sanitizeForGemini = %q", got)
	}
	if got := sanitizeForGemini("application/pdf"); got != "" {
		t.Fatalf("expected pdf to be unsupported, got %q", got)
	}
}

func TestDummyLLMUsesLastNonEmptyLine(t *testing.T) {
	llm := NewDummyLLM("Prefix:")
	res, err := llm.Invoke(context.Background(), "dummy", mustCompose(t, "first\n\nsecond\n  \nthird"))
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "Prefix: third" {
		t.Fatalf("unexpected response: %q", res.Text)
	}
}

func TestNewInvokerErrorsOnUnknownProvider(t *testing.T) {
	if _, err := NewInvoker(context.Background(), Options{Provider: "unknown"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := NewInvoker(context.Background(), Options{Provider: "http"}); err == nil {
		t.Fatalf("expected error for http provider without endpoint")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{errors.New("boom"), KindNone},
		{&ValidationError{Field: "prompt"}, KindValidation},
		{&TransportError{Provider: "x"}, KindTransport},
		{&ParseError{Reason: "x"}, KindParse},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
