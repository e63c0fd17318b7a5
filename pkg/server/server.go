// Package server exposes the analyzer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	vision "github.com/Protocol-Lattice/go-vision"
	"github.com/Protocol-Lattice/go-vision/internal/config"
	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"github.com/Protocol-Lattice/go-vision/pkg/upload"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxBody caps a whole multipart request.
const DefaultMaxBody = 64 << 20

// Options configure a Server.
type Options struct {
	Analyzer *vision.Analyzer
	Logger   *slog.Logger
	MaxBody  int64
	// CheckModel validates a per-request model override. Nil accepts any id.
	CheckModel func(model string) error
	// Models is served by GET /v1/models.
	Models  []string
	Regions []string
}

// Server holds the HTTP handlers.
type Server struct {
	analyzer   *vision.Analyzer
	logger     *slog.Logger
	maxBody    int64
	checkModel func(string) error
	models     []string
	regions    []string
}

func New(opts Options) (*Server, error) {
	if opts.Analyzer == nil {
		return nil, errors.New("server requires an analyzer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Server{
		analyzer:   opts.Analyzer,
		logger:     logger,
		maxBody:    maxBody,
		checkModel: opts.CheckModel,
		models:     opts.Models,
		regions:    opts.Regions,
	}, nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.listModels)
		r.Post("/analyze", s.analyze)
	})
	return r
}

type usageJSON struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type rejectionJSON struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

type errorJSON struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// AnalyzeResponse is the body of POST /v1/analyze.
type AnalyzeResponse struct {
	ID         string          `json:"id,omitempty"`
	Model      string          `json:"model,omitempty"`
	Text       string          `json:"text,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Usage      *usageJSON      `json:"usage,omitempty"`
	Rejections []rejectionJSON `json:"rejections,omitempty"`
	Error      *errorJSON      `json:"error,omitempty"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeFailure(w, &models.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	sub, err := s.submission(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := s.analyzer.Analyze(r.Context(), sub)
	resp := AnalyzeResponse{ID: out.ID, Model: out.Model}
	for _, rej := range out.Rejections {
		resp.Rejections = append(resp.Rejections, rejectionJSON{File: rej.File, Reason: rej.Reason})
	}
	if out.Err != nil {
		resp.Error = &errorJSON{Kind: out.Kind(), Message: out.Err.Error()}
		writeJSON(w, statusFor(out.Kind()), resp)
		return
	}
	resp.Text = out.Result.Text
	resp.StopReason = out.Result.StopReason
	resp.Usage = &usageJSON{InputTokens: out.Result.InputTokens, OutputTokens: out.Result.OutputTokens}
	writeJSON(w, http.StatusOK, resp)
}

// submission reads form values; absent sampling fields keep the analyzer defaults.
func (s *Server) submission(r *http.Request) (vision.Submission, error) {
	form := r.MultipartForm
	sub := vision.Submission{Prompt: r.FormValue("prompt")}

	if m := strings.TrimSpace(r.FormValue("model")); m != "" {
		if s.checkModel != nil {
			if err := s.checkModel(m); err != nil {
				return sub, err
			}
		}
		sub.Model = m
	}

	cfg := s.analyzer.Config()
	changed := false
	if v := r.FormValue("system"); v != "" {
		cfg.SystemPrompt = v
		changed = true
	}
	for _, f := range []struct {
		key string
		set func(string) error
	}{
		{"max_tokens", func(v string) (err error) { cfg.MaxTokens, err = strconv.Atoi(v); return }},
		{"top_k", func(v string) (err error) { cfg.TopK, err = strconv.Atoi(v); return }},
		{"temperature", func(v string) (err error) { cfg.Temperature, err = strconv.ParseFloat(v, 64); return }},
		{"top_p", func(v string) (err error) { cfg.TopP, err = strconv.ParseFloat(v, 64); return }},
	} {
		v := strings.TrimSpace(r.FormValue(f.key))
		if v == "" {
			continue
		}
		if err := f.set(v); err != nil {
			return sub, &models.ValidationError{Field: f.key, Reason: fmt.Sprintf("not a number: %q", v)}
		}
		changed = true
	}
	if changed {
		if err := config.CheckGeneration(cfg); err != nil {
			return sub, err
		}
		sub.Config = &cfg
	}

	if form != nil {
		for _, hdr := range form.File["files"] {
			sub.Files = append(sub.Files, formFile{hdr: hdr})
		}
	}
	return sub, nil
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	cfg := s.analyzer.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.analyzer.Model(),
		"models":  s.models,
		"regions": s.regions,
		"limits": map[string]int{
			"max_tokens": models.MaxTokensLimit,
			"top_k":      models.TopKLimit,
		},
		"defaults": map[string]any{
			"max_tokens":  cfg.MaxTokens,
			"temperature": cfg.Temperature,
			"top_p":       cfg.TopP,
			"top_k":       cfg.TopK,
		},
	})
}

// formFile adapts a multipart file to upload.Upload.
type formFile struct {
	hdr *multipart.FileHeader
}

func (f formFile) Name() string      { return f.hdr.Filename }
func (f formFile) MediaType() string { return f.hdr.Header.Get("Content-Type") }
func (f formFile) Size() int64       { return f.hdr.Size }

func (f formFile) Read() ([]byte, error) {
	file, err := f.hdr.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

var _ upload.Upload = formFile{}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusUnprocessableEntity
	case models.KindTransport, models.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	writeJSON(w, statusFor(kind), AnalyzeResponse{Error: &errorJSON{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start),
		)
	})
}

// ListenAndServe serves h on addr until ctx is cancelled, then drains
// in-flight requests for up to grace.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, grace time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		logger.Info("shutting down", "grace", grace)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
