package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		for y := 0; y < h; y += 5 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDownscale_LandscapeCappedAtMaxDimension(t *testing.T) {
	out, err := Downscale(pngOf(t, 2160, 1440))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, MaxDimension, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestDownscale_PortraitCappedAtMaxDimension(t *testing.T) {
	out, err := Downscale(pngOf(t, 1200, 2400))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 540, cfg.Width)
	assert.Equal(t, MaxDimension, cfg.Height)
}

func TestDownscale_SmallImageNotEnlarged(t *testing.T) {
	out, err := Downscale(pngOf(t, 320, 200))
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 200, cfg.Height)
}

func TestDownscale_UndecodableInput(t *testing.T) {
	_, err := Downscale([]byte("\x00\x00\x00\x18ftypheic"))
	require.Error(t, err)
}
