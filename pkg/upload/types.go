package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Protocol-Lattice/go-vision/pkg/models"
)

// Upload is one user-supplied file. Implementations exist for in-memory
// bytes, local paths and multipart form parts.
type Upload interface {
	Name() string
	MediaType() string // declared type; may be empty
	Size() int64       // -1 when unknown
	Read() ([]byte, error)
}

// File is an in-memory Upload.
type File struct {
	FileName string
	Type     string
	Data     []byte
}

func (f File) Name() string          { return f.FileName }
func (f File) MediaType() string     { return f.Type }
func (f File) Size() int64           { return int64(len(f.Data)) }
func (f File) Read() ([]byte, error) { return f.Data, nil }

type pathUpload struct {
	path string
	typ  string
	size int64
}

// FromPath opens a local file as an Upload. The media type is taken from
// the extension; an unknown extension leaves it empty so it gets sniffed.
func FromPath(path string) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	return &pathUpload{
		path: path,
		typ:  typeByExt(filepath.Ext(path)),
		size: info.Size(),
	}, nil
}

func (p *pathUpload) Name() string          { return filepath.Base(p.path) }
func (p *pathUpload) MediaType() string     { return p.typ }
func (p *pathUpload) Size() int64           { return p.size }
func (p *pathUpload) Read() ([]byte, error) { return os.ReadFile(p.path) }

// Kind tells what an Attachment carries.
type Kind string

const (
	KindImage         Kind = "image"
	KindExtractedText Kind = "extracted_text"
)

// Attachment is one normalized image ready for the composer.
type Attachment struct {
	Name      string
	MediaType string
	Kind      Kind
	Data      []byte
	Path      string // transient copy; empty when no scratch dir is in use
	Page      int    // 1-based page for rasterized PDFs, 0 otherwise
}

// Image converts the attachment for the request composer.
func (a Attachment) Image() models.Image {
	return models.Image{Name: a.Name, MediaType: a.MediaType, Data: a.Data}
}

// Class is the outcome of classifying one upload.
type Class string

const (
	ClassText     Class = "text"
	ClassImages   Class = "images"
	ClassRejected Class = "rejected"
)

// Classification is the per-file result of Classify. Exactly one of Text,
// Images or Rejection is meaningful, selected by Kind.
type Classification struct {
	Name      string
	MediaType string
	Kind      Class
	Text      string
	Images    []Attachment
	Rejection *models.ValidationError
}

// Document is a decoded upload handed to an Extractor.
type Document struct {
	Name      string
	MIME      string
	SizeBytes int64
	Reader    io.ReadSeeker
}

// Extractor pulls page texts out of a document. A page without a text
// layer yields an empty string, so callers can tell scanned documents apart.
type Extractor interface {
	Extract(doc *Document) ([]string, error)
	Supports(mime string) bool
}

// Rasterizer renders every page of a PDF to PNG, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dpi float64) ([][]byte, error)
}

// Redactor scrubs text pulled into the prompt.
type Redactor interface {
	Redact(s string) (string, bool) // returns redacted string and whether any changes were made
}
