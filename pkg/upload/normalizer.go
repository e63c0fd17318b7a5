package upload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many uploads are classified at once. Raise
// Normalizer.Workers to classify large batches concurrently.
const DefaultWorkers = 1

// Normalizer turns uploads into prompt text and image attachments.
// A zero Normalizer is not usable; build one with NewNormalizer.
type Normalizer struct {
	Extractors    []Extractor
	Rasterizer    Rasterizer
	Redactor      Redactor // optional; applied to text pulled into the prompt
	Scratch       *Scratch // optional; receives transient copies of images
	MaxImageBytes int64
	Workers       int
	Logger        *slog.Logger
}

// Normalized is the aggregate result for one submission.
type Normalized struct {
	PromptSuffix    string
	Images          []Attachment
	Rejections      []*models.ValidationError
	Classifications []Classification
}

// ModelImages returns the attachments in composer form, order preserved.
func (n *Normalized) ModelImages() []models.Image {
	out := make([]models.Image, 0, len(n.Images))
	for _, a := range n.Images {
		out = append(out, a.Image())
	}
	return out
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		// PDF first, then text (so PDFs don't fall through)
		Extractors:    []Extractor{PDFExtractor{}, TextExtractor{}},
		Rasterizer:    FitzRasterizer{},
		MaxImageBytes: MaxImageBytes,
		Workers:       DefaultWorkers,
		Logger:        logger,
	}
}

// WithScratch returns a shallow copy that writes image copies into s.
func (n *Normalizer) WithScratch(s *Scratch) *Normalizer {
	c := *n
	c.Scratch = s
	return &c
}

// Normalize classifies every upload on its own. Files may be processed
// concurrently but results keep upload order. Rejected files are collected
// and never abort the batch; only infrastructure faults (scratch writes,
// cancellation) are returned as errors.
func (n *Normalizer) Normalize(ctx context.Context, uploads []Upload) (*Normalized, error) {
	results := make([]Classification, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers())
	for i, u := range uploads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := n.classify(gctx, u)
			if err != nil {
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Normalized{Classifications: results}
	var texts []string
	for _, c := range results {
		switch c.Kind {
		case ClassText:
			texts = append(texts, c.Text)
		case ClassImages:
			out.Images = append(out.Images, c.Images...)
		case ClassRejected:
			out.Rejections = append(out.Rejections, c.Rejection)
			n.logger().Warn("upload rejected", "file", c.Name, "media_type", c.MediaType, "reason", c.Rejection.Reason)
		}
	}
	out.PromptSuffix = strings.Join(texts, "\n\n")
	return out, nil
}

// Classify handles a single upload. Unusable files come back as a
// ClassRejected classification; the error is reserved for infrastructure
// faults such as scratch writes or cancellation.
func (n *Normalizer) Classify(ctx context.Context, u Upload) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	return n.classify(ctx, u)
}

func (n *Normalizer) classify(ctx context.Context, u Upload) (Classification, error) {
	name := u.Name()
	if isSupportedImage(normalizeMIME(u.MediaType())) && u.Size() > n.maxImageBytes() {
		return reject(name, u.MediaType(), n.tooLarge(u.Size())), nil
	}
	data, err := u.Read()
	if err != nil {
		return reject(name, u.MediaType(), fmt.Sprintf("cannot read upload: %v", err)), nil
	}
	mt := resolveMIME(name, u.MediaType(), data)

	switch {
	case isSupportedImage(mt):
		return n.classifyImage(name, mt, data)
	case mt == mimePDF:
		return n.classifyPDF(ctx, name, data)
	case isTextMIME(mt):
		return n.classifyText(name, mt, data), nil
	default:
		return reject(name, mt, "unsupported file type "+mt), nil
	}
}

func (n *Normalizer) classifyText(name, mt string, data []byte) Classification {
	blocks, err := n.extract(&Document{Name: name, MIME: mt, SizeBytes: int64(len(data)), Reader: bytes.NewReader(data)})
	if err != nil {
		return reject(name, mt, err.Error())
	}
	return Classification{Name: name, MediaType: mt, Kind: ClassText, Text: n.redact(strings.Join(blocks, ""))}
}

func (n *Normalizer) classifyPDF(ctx context.Context, name string, data []byte) (Classification, error) {
	pages, err := n.extract(&Document{Name: name, MIME: mimePDF, SizeBytes: int64(len(data)), Reader: bytes.NewReader(data)})
	if err != nil {
		return reject(name, mimePDF, fmt.Sprintf("unreadable pdf: %v", err)), nil
	}
	if hasText(pages) {
		n.logger().Debug("pdf has a text layer", "file", name, "pages", len(pages))
		return Classification{Name: name, MediaType: mimePDF, Kind: ClassText, Text: n.redact(strings.Join(pages, "\n"))}, nil
	}

	if n.Rasterizer == nil {
		return reject(name, mimePDF, "pdf has no text layer and rasterization is unavailable"), nil
	}
	pngs, err := n.Rasterizer.Rasterize(ctx, data, RasterDPI)
	if err != nil {
		if ctx.Err() != nil {
			return Classification{}, ctx.Err()
		}
		return reject(name, mimePDF, fmt.Sprintf("cannot rasterize pdf: %v", err)), nil
	}
	n.logger().Debug("pdf rasterized", "file", name, "pages", len(pngs), "dpi", RasterDPI)

	c := Classification{Name: name, MediaType: mimePDF, Kind: ClassImages}
	for i, png := range pngs {
		a := Attachment{
			Name:      fmt.Sprintf("%s.page%d.png", name, i+1),
			MediaType: mimePNG,
			Kind:      KindImage,
			Data:      png,
			Page:      i + 1,
		}
		if err := n.keep(&a); err != nil {
			return Classification{}, err
		}
		c.Images = append(c.Images, a)
	}
	if len(c.Images) == 0 {
		return reject(name, mimePDF, "pdf has no pages"), nil
	}
	return c, nil
}

func (n *Normalizer) classifyImage(name, declared string, data []byte) (Classification, error) {
	if int64(len(data)) > n.maxImageBytes() {
		return reject(name, declared, n.tooLarge(int64(len(data)))), nil
	}
	actual, _, err := checkImage(data)
	if err != nil {
		return reject(name, declared, err.Error()), nil
	}
	if actual != declared {
		n.logger().Debug("image media type corrected", "file", name, "declared", declared, "actual", actual)
	}
	a := Attachment{Name: name, MediaType: actual, Kind: KindImage, Data: data}
	if err := n.keep(&a); err != nil {
		return Classification{}, err
	}
	return Classification{Name: name, MediaType: actual, Kind: ClassImages, Images: []Attachment{a}}, nil
}

func (n *Normalizer) extract(doc *Document) ([]string, error) {
	for _, ex := range n.Extractors {
		if ex.Supports(doc.MIME) {
			return ex.Extract(doc)
		}
	}
	return nil, fmt.Errorf("no extractor for %s", doc.MIME)
}

func (n *Normalizer) keep(a *Attachment) error {
	if n.Scratch == nil {
		return nil
	}
	path, err := n.Scratch.Put(a.Name, a.Data)
	if err != nil {
		return fmt.Errorf("write transient copy of %s: %w", a.Name, err)
	}
	a.Path = path
	return nil
}

func (n *Normalizer) redact(s string) string {
	if n.Redactor == nil {
		return s
	}
	out, _ := n.Redactor.Redact(s)
	return out
}

func (n *Normalizer) maxImageBytes() int64 {
	if n.MaxImageBytes <= 0 {
		return MaxImageBytes
	}
	return n.MaxImageBytes
}

func (n *Normalizer) tooLarge(size int64) string {
	return fmt.Sprintf("image is %d bytes, limit is %d", size, n.maxImageBytes())
}

func (n *Normalizer) workers() int {
	if n.Workers <= 0 {
		return 1
	}
	return n.Workers
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func reject(name, mt, reason string) Classification {
	return Classification{
		Name:      name,
		MediaType: mt,
		Kind:      ClassRejected,
		Rejection: &models.ValidationError{Field: "file", File: name, Reason: reason},
	}
}
