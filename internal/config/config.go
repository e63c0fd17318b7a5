// Package config resolves runtime settings from defaults, an optional YAML
// file and the environment. CLI flags are applied on top by cmd/vision.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProvider    = "bedrock"
	DefaultModel       = "anthropic.claude-3-sonnet-20240229-v1:0"
	DefaultRegion      = "us-east-1"
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.5
	DefaultTopP        = 0.999
	DefaultTopK        = 250
	DefaultListen      = ":8080"
)

const (
	envKeyProvider     = "VISION_PROVIDER"
	envKeyModel        = "VISION_MODEL"
	envKeyRegion       = "AWS_REGION"
	envKeyMaxTokens    = "VISION_MAX_TOKENS"
	envKeyTemperature  = "VISION_TEMPERATURE"
	envKeyTopP         = "VISION_TOP_P"
	envKeyTopK         = "VISION_TOP_K"
	envKeySystemPrompt = "VISION_SYSTEM_PROMPT"
	envKeyEndpoint     = "VISION_ENDPOINT"
	envKeyScratchDir   = "VISION_SCRATCH_DIR"
	envKeyListen       = "VISION_LISTEN"
	envKeyConfig       = "VISION_CONFIG"
	envKeyAPIKey       = "VISION_API_KEY"
)

// Providers accepted by models.NewInvoker.
var Providers = []string{"bedrock", "http", "anthropic", "openai", "gemini", "ollama", "dummy"}

// Settings holds the process-wide defaults. Requests may override model and
// sampling values; region and provider are fixed per process.
type Settings struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	Region       string  `yaml:"region"`
	Endpoint     string  `yaml:"endpoint"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	TopK         int     `yaml:"top_k"`
	SystemPrompt string  `yaml:"system_prompt"`
	ScratchDir   string  `yaml:"scratch_dir"`
	Listen       string  `yaml:"listen"`
	ImagesFirst  bool    `yaml:"images_first"`
	Redact       bool    `yaml:"redact"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Provider:    DefaultProvider,
		Model:       DefaultModel,
		Region:      DefaultRegion,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		TopK:        DefaultTopK,
		Listen:      DefaultListen,
	}
}

// Load layers defaults, the YAML file at path (or $VISION_CONFIG) and the
// environment. An empty path with no $VISION_CONFIG skips the file.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		path = os.Getenv(envKeyConfig)
	}
	if path != "" {
		if err := s.mergeFile(path); err != nil {
			return s, err
		}
	}
	if err := s.mergeEnv(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (s *Settings) mergeEnv() error {
	s.Provider = envOr(envKeyProvider, s.Provider)
	s.Model = envOr(envKeyModel, s.Model)
	s.Region = envOr(envKeyRegion, s.Region)
	s.Endpoint = envOr(envKeyEndpoint, s.Endpoint)
	s.SystemPrompt = envOr(envKeySystemPrompt, s.SystemPrompt)
	s.ScratchDir = envOr(envKeyScratchDir, s.ScratchDir)
	s.Listen = envOr(envKeyListen, s.Listen)

	var errs []error
	var err error
	if s.MaxTokens, err = envInt(envKeyMaxTokens, s.MaxTokens); err != nil {
		errs = append(errs, err)
	}
	if s.TopK, err = envInt(envKeyTopK, s.TopK); err != nil {
		errs = append(errs, err)
	}
	if s.Temperature, err = envFloat(envKeyTemperature, s.Temperature); err != nil {
		errs = append(errs, err)
	}
	if s.TopP, err = envFloat(envKeyTopP, s.TopP); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks bounds and, for Bedrock, the model and region catalogs.
func (s Settings) Validate() error {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	if !slices.Contains(Providers, provider) {
		return &models.ValidationError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", s.Provider)}
	}
	if strings.TrimSpace(s.Model) == "" {
		return &models.ValidationError{Field: "model", Reason: "model is required"}
	}
	if provider == "bedrock" {
		if err := CheckModel(s.Model); err != nil {
			return err
		}
		if !models.KnownRegion(s.Region) {
			return &models.ValidationError{Field: "region", Reason: fmt.Sprintf("unsupported region %q", s.Region)}
		}
	}
	if provider == "http" && s.Endpoint == "" {
		return &models.ValidationError{Field: "endpoint", Reason: "http provider requires an endpoint"}
	}
	return CheckGeneration(s.Generation())
}

// CheckModel rejects Bedrock model ids outside the catalog.
func CheckModel(model string) error {
	if !models.KnownModel(model) {
		return &models.ValidationError{Field: "model", Reason: fmt.Sprintf("unsupported model %q", model)}
	}
	return nil
}

// CheckGeneration applies the user-facing bounds on top of GenerationConfig.Validate.
func CheckGeneration(g models.GenerationConfig) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g.MaxTokens > models.MaxTokensLimit {
		return &models.ValidationError{Field: "max_tokens", Reason: fmt.Sprintf("must be at most %d, got %d", models.MaxTokensLimit, g.MaxTokens)}
	}
	if g.TopK > models.TopKLimit {
		return &models.ValidationError{Field: "top_k", Reason: fmt.Sprintf("must be at most %d, got %d", models.TopKLimit, g.TopK)}
	}
	return nil
}

// Generation returns the sampling defaults as a GenerationConfig value.
func (s Settings) Generation() models.GenerationConfig {
	return models.GenerationConfig{
		MaxTokens:    s.MaxTokens,
		Temperature:  s.Temperature,
		TopP:         s.TopP,
		TopK:         s.TopK,
		SystemPrompt: s.SystemPrompt,
	}
}

// InvokerOptions returns the options for models.NewInvoker.
func (s Settings) InvokerOptions() models.Options {
	return models.Options{
		Provider: s.Provider,
		Region:   s.Region,
		Endpoint: s.Endpoint,
		APIKey:   os.Getenv(envKeyAPIKey),
	}
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
