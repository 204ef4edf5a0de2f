// Package gifgen assembles a run's PNG captures into an animated walkthrough GIF.
package gifgen

import (
	"cmp"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"os"
	"slices"
	"time"

	"github.com/nfnt/resize"
)

// ErrNoFrames is returned when there is nothing to animate.
var ErrNoFrames = errors.New("no frames to assemble")

// Options configures GIF generation
type Options struct {
	FrameDelay time.Duration // how long each capture is held; zero means 1.5s
	MaxWidth   uint          // output width; zero means 800
	// Aspect is the output height over width. Full-page captures are cropped from the top to
	// this ratio. Zero means 10/16.
	Aspect float64
}

func (o Options) withDefaults() Options {
	if o.FrameDelay <= 0 {
		o.FrameDelay = 1500 * time.Millisecond
	}
	if o.MaxWidth == 0 {
		o.MaxWidth = 800
	}
	if o.Aspect <= 0 {
		o.Aspect = 10.0 / 16.0
	}
	return o
}

// Generate decodes the PNGs at paths, in the given order, and writes the GIF to outputPath.
// The output file must not exist yet. It returns the size of the written file.
func Generate(paths []string, outputPath string, opts Options) (int64, error) {
	if len(paths) == 0 {
		return 0, ErrNoFrames
	}
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := decodePNG(p)
		if err != nil {
			return 0, err
		}
		frames = append(frames, img)
	}

	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create gif: %w", err)
	}
	defer f.Close()

	if err := Encode(f, frames, opts); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Encode writes frames as an infinitely looping GIF sharing one palette.
func Encode(w io.Writer, frames []image.Image, opts Options) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	opts = opts.withDefaults()

	width := opts.MaxWidth
	height := uint(float64(width) * opts.Aspect)
	if height == 0 {
		height = 1
	}
	// Delay is in 100ths of a second
	delay := int(opts.FrameDelay / (10 * time.Millisecond))

	scaled := make([]image.Image, len(frames))
	for i, frame := range frames {
		scaled[i] = resize.Resize(width, height, cropTop(frame, opts.Aspect), resize.Lanczos3)
	}
	palette := generatePalette(scaled)

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(scaled)),
		Delay:     make([]int, len(scaled)),
		LoopCount: 0, // Infinite loop
	}
	for i, img := range scaled {
		paletted := image.NewPaletted(img.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, image.Point{})
		g.Image[i] = paletted
		g.Delay[i] = delay
	}
	if err := gif.EncodeAll(w, g); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	return nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// cropTop keeps the top of a tall full-page capture so every frame shares one aspect ratio.
func cropTop(img image.Image, aspect float64) image.Image {
	b := img.Bounds()
	want := int(float64(b.Dx()) * aspect)
	if want <= 0 || b.Dy() <= want {
		return img
	}
	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return img
	}
	return sub.SubImage(image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+want))
}

// generatePalette builds a 256-colour palette from the most frequent colours across all frames
func generatePalette(frames []image.Image) color.Palette {
	colorMap := make(map[color.RGBA]int)

	step := 4 // Sample every 4th pixel for performance
	for _, img := range frames {
		bounds := img.Bounds()
		for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
			for x := bounds.Min.X; x < bounds.Max.X; x += step {
				r, g, b, _ := img.At(x, y).RGBA()
				// Quantise to 5 bits per channel so near-identical shades share a slot
				c := color.RGBA{
					R: uint8(r>>8) &^ 7,
					G: uint8(g>>8) &^ 7,
					B: uint8(b>>8) &^ 7,
					A: 255,
				}
				colorMap[c]++
			}
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(colorMap))
	for c, count := range colorMap {
		colors = append(colors, colorCount{c, count})
	}
	slices.SortFunc(colors, func(a, b colorCount) int {
		if n := cmp.Compare(b.count, a.count); n != 0 {
			return n
		}
		return cmp.Compare(rgbKey(a.c), rgbKey(b.c))
	})

	palette := make(color.Palette, 0, 256)
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}

	// If we don't have enough colors, pad with grayscale
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

func rgbKey(c color.RGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
