package vision

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"github.com/Protocol-Lattice/go-vision/pkg/upload"
	"github.com/google/uuid"
)

// Analyzer runs submissions through normalize, compose and invoke.
// It holds no per-submission state and is safe for concurrent use.
type Analyzer struct {
	invoker     models.Invoker
	normalizer  *upload.Normalizer
	model       string
	config      models.GenerationConfig
	scratchDir  string
	imagesFirst bool
	logger      *slog.Logger
}

// Options configure a new Analyzer.
type Options struct {
	Invoker     models.Invoker
	Model       string
	Config      models.GenerationConfig
	Normalizer  *upload.Normalizer // defaults to upload.NewNormalizer
	ScratchDir  string             // parent of per-submission scratch dirs; os.TempDir() when empty
	ImagesFirst bool
	Logger      *slog.Logger
}

// Submission is one prompt plus its uploads. Model and Config override the
// analyzer defaults for this submission only.
type Submission struct {
	Prompt string
	Files  []upload.Upload
	Model  string
	Config *models.GenerationConfig
}

// Outcome is the result of one submission. Err is nil on success.
// Attempted reports whether a request was sent to the model endpoint.
type Outcome struct {
	ID         string
	Model      string
	Result     *models.InferenceResult
	Rejections []*models.ValidationError
	Err        error
	Attempted  bool
	Elapsed    time.Duration
}

// Kind attributes a failed outcome to validation, transport or parse.
func (o Outcome) Kind() models.ErrorKind { return models.KindOf(o.Err) }

// OK reports whether the submission produced a reply.
func (o Outcome) OK() bool { return o.Err == nil && o.Result != nil }

// New creates an Analyzer with the provided options.
func New(opts Options) (*Analyzer, error) {
	if opts.Invoker == nil {
		return nil, errors.New("analyzer requires an invoker")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("analyzer requires a model id")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	norm := opts.Normalizer
	if norm == nil {
		norm = upload.NewNormalizer(logger)
	}
	return &Analyzer{
		invoker:     opts.Invoker,
		normalizer:  norm,
		model:       opts.Model,
		config:      opts.Config,
		scratchDir:  opts.ScratchDir,
		imagesFirst: opts.ImagesFirst,
		logger:      logger,
	}, nil
}

// Model returns the default model id.
func (a *Analyzer) Model() string { return a.model }

// Config returns a copy of the default generation config.
func (a *Analyzer) Config() models.GenerationConfig { return a.config }

// Analyze processes one submission. A blank prompt or invalid config fails
// before any upload is read. Rejected uploads are reported and skipped.
// At most one request is sent; failures are not retried.
func (a *Analyzer) Analyze(ctx context.Context, sub Submission) (out Outcome) {
	start := time.Now()
	out.ID = uuid.NewString()
	out.Model = a.model
	if m := strings.TrimSpace(sub.Model); m != "" {
		out.Model = m
	}
	cfg := a.config
	if sub.Config != nil {
		cfg = *sub.Config
	}
	log := a.logger.With("submission", out.ID, "model", out.Model)
	defer func() {
		out.Elapsed = time.Since(start)
		if out.Err != nil {
			log.Warn("submission failed", "kind", out.Kind(), "attempted", out.Attempted, "error", out.Err, "elapsed", out.Elapsed)
			return
		}
		log.Info("submission done", "input_tokens", out.Result.InputTokens, "output_tokens", out.Result.OutputTokens, "elapsed", out.Elapsed)
	}()

	if err := models.ValidatePrompt(sub.Prompt); err != nil {
		out.Err = err
		return out
	}
	if err := cfg.Validate(); err != nil {
		out.Err = err
		return out
	}

	scratch, err := upload.NewScratch(a.scratchDir)
	if err != nil {
		out.Err = infraError("create scratch dir", err)
		return out
	}
	defer func() {
		if err := scratch.Close(); err != nil {
			log.Warn("scratch cleanup failed", "dir", scratch.Dir, "error", err)
		}
	}()

	norm, err := a.normalizer.WithScratch(scratch).Normalize(ctx, sub.Files)
	if err != nil {
		out.Err = infraError("normalize uploads", err)
		return out
	}
	out.Rejections = norm.Rejections
	log.Debug("uploads normalized", "files", len(sub.Files), "images", len(norm.Images),
		"inline_bytes", len(norm.PromptSuffix), "rejected", len(norm.Rejections))

	opts := []models.ComposeOption{models.WithAttachedText(norm.PromptSuffix)}
	if a.imagesFirst {
		opts = append(opts, models.WithImagesFirst())
	}
	env, err := models.Compose(sub.Prompt, norm.ModelImages(), cfg, opts...)
	if err != nil {
		out.Err = err
		return out
	}

	out.Attempted = true
	res, err := a.invoker.Invoke(ctx, out.Model, env)
	if err != nil {
		if models.KindOf(err) == models.KindNone {
			err = infraError("invoke", err)
		}
		out.Err = err
		return out
	}
	if res == nil {
		out.Err = &models.ParseError{Reason: "invoker returned no result"}
		return out
	}
	out.Result = res
	return out
}

func infraError(op string, err error) error {
	return &models.TransportError{Provider: "local", Message: op + ": " + err.Error(), Err: err}
}
