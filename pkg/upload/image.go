package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// MaxImageBytes is the largest image accepted as an attachment.
const MaxImageBytes = 5 << 20

var formatMIME = map[string]string{
	"jpeg": mimeJPEG,
	"png":  mimePNG,
	"gif":  mimeGIF,
	"webp": mimeWEBP,
}

// checkImage decodes the image header and returns the media type of the
// actual encoding, which may differ from the declared one.
func checkImage(data []byte) (string, image.Config, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", cfg, fmt.Errorf("not a decodable image: %w", err)
	}
	mt, ok := formatMIME[format]
	if !ok {
		return "", cfg, fmt.Errorf("unsupported image encoding %q", format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", cfg, errors.New("image has no pixels")
	}
	return mt, cfg, nil
}
