package gifgen

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "001_a.png")
	b := filepath.Join(dir, "002_b.png")
	writePNG(t, a, 160, 100, color.RGBA{R: 255, A: 255})
	writePNG(t, b, 160, 400, color.RGBA{B: 255, A: 255})

	out := filepath.Join(dir, "walkthrough.gif")
	size, err := Generate([]string{a, b}, out, Options{MaxWidth: 80, FrameDelay: time.Second})
	require.NoError(t, err)
	assert.Positive(t, size)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	g, err := gif.DecodeAll(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{100, 100}, g.Delay)
	for _, frame := range g.Image {
		assert.Equal(t, 80, frame.Bounds().Dx())
		assert.Equal(t, 50, frame.Bounds().Dy())
	}
}

func TestGenerateRefusesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "001_a.png")
	writePNG(t, a, 16, 10, color.White)
	out := filepath.Join(dir, "walkthrough.gif")
	require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))

	_, err := Generate([]string{a}, out, Options{})
	assert.Error(t, err)
}

func TestGenerateNoFrames(t *testing.T) {
	_, err := Generate(nil, filepath.Join(t.TempDir(), "x.gif"), Options{})
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestCropTop(t *testing.T) {
	tall := image.NewRGBA(image.Rect(0, 0, 100, 1000))
	got := cropTop(tall, 0.5)
	assert.Equal(t, image.Rect(0, 0, 100, 50), got.Bounds())

	short := image.NewRGBA(image.Rect(0, 0, 100, 20))
	assert.Equal(t, short.Bounds(), cropTop(short, 0.5).Bounds())
}
