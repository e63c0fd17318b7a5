package upload

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor implements Extractor for application/pdf.
type PDFExtractor struct{}

func (PDFExtractor) Supports(m string) bool {
	return strings.EqualFold(m, mimePDF)
}

// Extract returns one entry per page. Pages without a text layer, or whose
// text cannot be decoded, yield "".
func (PDFExtractor) Extract(doc *Document) ([]string, error) {
	// Ensure we have an io.ReaderAt and correct size for the PDF reader.
	var ra io.ReaderAt
	if r, ok := doc.Reader.(io.ReaderAt); ok {
		ra = r
	} else {
		if _, err := doc.Reader.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		buf, err := io.ReadAll(doc.Reader)
		if err != nil {
			return nil, err
		}
		br := bytes.NewReader(buf)
		ra = br
		doc.Reader = br
		doc.SizeBytes = int64(len(buf))
	}

	rdr, err := pdf.NewReader(ra, doc.SizeBytes)
	if err != nil {
		return nil, err
	}

	n := rdr.NumPage()
	out := make([]string, n)
	for i := 1; i <= n; i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			continue
		}
		out[i-1] = txt
	}
	return out, nil
}

// hasText reports whether any page carries non-whitespace text.
func hasText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}
