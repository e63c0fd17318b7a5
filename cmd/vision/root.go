package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	vision "github.com/Protocol-Lattice/go-vision"
	"github.com/Protocol-Lattice/go-vision/internal/config"
	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"github.com/Protocol-Lattice/go-vision/pkg/upload"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalFlags are applied on top of config.Load only when set explicitly.
type globalFlags struct {
	configPath  string
	envFile     string
	logLevel    string
	logFormat   string
	provider    string
	model       string
	region      string
	endpoint    string
	system      string
	scratchDir  string
	maxTokens   int
	temperature float64
	topP        float64
	topK        int
	imagesFirst bool
	redact      bool
}

type app struct {
	flags    globalFlags
	settings config.Settings
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "vision",
		Short:         "Send prompts with images, PDFs and text files to a multimodal model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	a.addFlags(root)
	root.AddCommand(a.analyzeCmd(), a.serveCmd(), a.modelsCmd())
	return root
}

func (a *app) addFlags(root *cobra.Command) {
	f := &a.flags
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML settings file (default $VISION_CONFIG)")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&f.logFormat, "log-format", "text", "text or json")

	pf.StringVar(&f.provider, "provider", config.DefaultProvider, "bedrock, http, anthropic, openai, gemini, ollama or dummy")
	pf.StringVar(&f.model, "model", config.DefaultModel, "model id")
	pf.StringVar(&f.region, "region", config.DefaultRegion, "AWS region for bedrock")
	pf.StringVar(&f.endpoint, "endpoint", "", "endpoint URL for the http provider, or base URL override")
	pf.StringVar(&f.system, "system", "", "system prompt")
	pf.StringVar(&f.scratchDir, "scratch-dir", "", "parent directory for transient upload copies")
	pf.IntVar(&f.maxTokens, "max-tokens", config.DefaultMaxTokens, fmt.Sprintf("response token limit (1-%d)", models.MaxTokensLimit))
	pf.Float64Var(&f.temperature, "temperature", config.DefaultTemperature, "sampling temperature (0-1)")
	pf.Float64Var(&f.topP, "top-p", config.DefaultTopP, "nucleus sampling (0-1)")
	pf.IntVar(&f.topK, "top-k", config.DefaultTopK, fmt.Sprintf("top-k sampling (0-%d)", models.TopKLimit))
	pf.BoolVar(&f.imagesFirst, "images-first", false, "place images before the prompt text")
	pf.BoolVar(&f.redact, "redact", false, "scrub e-mail addresses and phone numbers from inlined file text")
}

func (a *app) setup(cmd *cobra.Command) error {
	f := a.flags
	if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", f.envFile, err)
	}

	logger, err := newLogger(f.logLevel, f.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)

	s, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	changed := cmd.Flags().Changed
	if changed("provider") {
		s.Provider = f.provider
	}
	if changed("model") {
		s.Model = f.model
	}
	if changed("region") {
		s.Region = f.region
	}
	if changed("endpoint") {
		s.Endpoint = f.endpoint
	}
	if changed("system") {
		s.SystemPrompt = f.system
	}
	if changed("scratch-dir") {
		s.ScratchDir = f.scratchDir
	}
	if changed("max-tokens") {
		s.MaxTokens = f.maxTokens
	}
	if changed("temperature") {
		s.Temperature = f.temperature
	}
	if changed("top-p") {
		s.TopP = f.topP
	}
	if changed("top-k") {
		s.TopK = f.topK
	}
	if changed("images-first") {
		s.ImagesFirst = f.imagesFirst
	}
	if changed("redact") {
		s.Redact = f.redact
	}
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	a.settings = s
	return nil
}

// analyzer validates the settings and wires the invoker, normalizer and analyzer.
func (a *app) analyzer(ctx context.Context) (*vision.Analyzer, error) {
	s := a.settings
	if err := s.Validate(); err != nil {
		return nil, err
	}
	inv, err := models.NewInvoker(ctx, s.InvokerOptions())
	if err != nil {
		return nil, err
	}
	norm := upload.NewNormalizer(a.logger)
	if s.Redact {
		norm.Redactor = upload.NewDefaultRedactor()
	}
	a.logger.Debug("analyzer configured", "provider", s.Provider, "model", s.Model, "region", s.Region)
	return vision.New(vision.Options{
		Invoker:     inv,
		Model:       s.Model,
		Config:      s.Generation(),
		Normalizer:  norm,
		ScratchDir:  s.ScratchDir,
		ImagesFirst: s.ImagesFirst,
		Logger:      a.logger,
	})
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}
