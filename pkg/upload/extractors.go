package upload

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

const (
	mimeText        = "text/plain"
	mimeCSV         = "text/csv"
	mimePDF         = "application/pdf"
	mimeOctetStream = "application/octet-stream"
	mimePNG         = "image/png"
	mimeJPEG        = "image/jpeg"
	mimeGIF         = "image/gif"
	mimeWEBP        = "image/webp"
)

var errNotUTF8 = errors.New("content is not valid UTF-8")

// Extensions the platform table often lacks or maps inconsistently.
var mimeExtMap = map[string]string{
	".csv":  "text/csv",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".pdf":  mimePDF,
	".png":  mimePNG,
	".jpg":  mimeJPEG,
	".jpeg": mimeJPEG,
	".gif":  mimeGIF,
	".webp": mimeWEBP,
}

// TextExtractor decodes plain text, CSV and unrecognized octet-stream
// uploads as UTF-8, verbatim.
type TextExtractor struct{}

func (TextExtractor) Supports(m string) bool { return isTextMIME(m) }

func (TextExtractor) Extract(doc *Document) ([]string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, doc.Reader); err != nil {
		return nil, err
	}
	b := bytes.TrimPrefix(buf.Bytes(), []byte("\xef\xbb\xbf"))
	if !utf8.Valid(b) {
		return nil, errNotUTF8
	}
	return []string{string(b)}, nil
}

// normalizeMIME lower-cases a media type, drops parameters and folds aliases.
func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		m = mt
	} else if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "image/jpg", "image/pjpeg":
		return mimeJPEG
	case "application/x-pdf":
		return mimePDF
	}
	return m
}

// DetectMIME sniffs content first and falls back to the file extension.
func DetectMIME(name string, data []byte) string {
	if mt := normalizeMIME(mimetype.Detect(data).String()); mt != mimeOctetStream {
		return mt
	}
	if mt := typeByExt(filepath.Ext(name)); mt != "" {
		return mt
	}
	return mimeOctetStream
}

func typeByExt(ext string) string {
	ext = strings.ToLower(ext)
	if mt, ok := mimeExtMap[ext]; ok {
		return mt
	}
	return normalizeMIME(mime.TypeByExtension(ext))
}

// resolveMIME decides how an upload is handled. Missing types are sniffed.
// Octet-stream is sniffed too and only kept as such when nothing better is found,
// in which case it is treated as text.
func resolveMIME(name, declared string, data []byte) string {
	m := normalizeMIME(declared)
	if m != "" && m != mimeOctetStream {
		return m
	}
	sniffed := DetectMIME(name, data)
	if m == mimeOctetStream && !isSupportedBinary(sniffed) {
		return mimeOctetStream
	}
	return sniffed
}

// isTextMIME reports whether m is inlined into the prompt. Other text/*
// types such as HTML or source code are rejected.
func isTextMIME(m string) bool {
	switch m {
	case mimeText, mimeCSV, mimeOctetStream:
		return true
	}
	return false
}

func isSupportedBinary(m string) bool {
	return m == mimePDF || isSupportedImage(m)
}

func isSupportedImage(m string) bool {
	switch m {
	case mimeJPEG, mimePNG, mimeGIF, mimeWEBP:
		return true
	}
	return false
}
