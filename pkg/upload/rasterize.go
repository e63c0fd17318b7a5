package upload

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// PDFZoom is the upscale applied when rendering scanned pages. PDF user
// space is 72 units per inch, so zoom 4 renders at 288 DPI.
const PDFZoom = 4

// RasterDPI is the resolution used for scanned PDF pages.
const RasterDPI = 72 * PDFZoom

// FitzRasterizer renders pages with MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) Rasterize(ctx context.Context, data []byte, dpi float64) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		png, err := doc.ImagePNG(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		out = append(out, png)
	}
	return out, nil
}
