// Package imaging shrinks photos before they are sent to the classification
// assistant. The stored errand attachment is always the original upload.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxDimension = 1080
	JPEGQuality  = 80
)

// Downscale decodes data, fits it inside MaxDimension x MaxDimension without
// enlarging, and re-encodes it as JPEG. Formats without a registered decoder
// (HEIC) return an error.
func Downscale(data []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fitInside(b.Dx(), b.Dy(), MaxDimension)

	var dst image.Image = src
	if w != b.Dx() || h != b.Dy() {
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), src, b, draw.Over, nil)
		dst = rgba
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode %s as jpeg: %w", format, err)
	}
	return buf.Bytes(), nil
}

func fitInside(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
