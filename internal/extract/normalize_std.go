//go:build !govips || !cgo

package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func Startup() error { return nil }

func Shutdown() {}

// normalizeToRGBPNG decodes whatever pdfcpu handed us (PNG, JPEG, TIFF —
// the TIFF path is where CMYK separations show up) and re-encodes it as an
// RGB(A) PNG.
func normalizeToRGBPNG(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode extracted image: %w", err)
	}

	bounds := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, src, bounds.Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("encode normalized png: %w", err)
	}
	return buf.Bytes(), nil
}
