package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// InvalidImageError indicates the input bytes could not be decoded as a
// supported image format. It is not retryable.
type InvalidImageError struct {
	Err error
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

// Config holds normalization parameters.
type Config struct {
	MaxSize int // longest edge after normalization; larger inputs are scaled down
	MinSize int // inputs smaller than this on either edge are rejected
}

// DefaultConfig returns the default normalization configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize: 1600,
		MinSize: 32,
	}
}

// Canonical is the normalized form consumed by detection and OCR.
// Color is the working image; Gray is the matching grayscale copy used by
// engines that prefer single-channel input.
type Canonical struct {
	Color  image.Image
	Gray   *image.Gray
	Width  int
	Height int
}

// Normalize decodes raw image bytes and produces the canonical form:
// scaled down to fit cfg.MaxSize (never scaled up), with a grayscale copy
// derived from the color image. Normalization is a pure transform and a
// fixed point: re-normalizing a canonical image yields identical output.
func Normalize(data []byte, cfg Config) (*Canonical, error) {
	if len(data) == 0 {
		return nil, &InvalidImageError{Err: fmt.Errorf("empty input")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &InvalidImageError{Err: fmt.Errorf("decode failed (%s): %w", format, err)}
	}
	return FromImage(img, cfg)
}

// FromImage normalizes an already-decoded image.
func FromImage(img image.Image, cfg Config) (*Canonical, error) {
	if img == nil {
		return nil, &InvalidImageError{Err: fmt.Errorf("nil image")}
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < cfg.MinSize || h < cfg.MinSize {
		return nil, &InvalidImageError{
			Err: fmt.Errorf("image %dx%d below minimum edge %d", w, h, cfg.MinSize),
		}
	}

	working := img
	if longest := maxInt(w, h); cfg.MaxSize > 0 && longest > cfg.MaxSize {
		scale := float64(cfg.MaxSize) / float64(longest)
		nw := int(math.Round(float64(w) * scale))
		nh := int(math.Round(float64(h) * scale))
		working = imaging.Resize(img, nw, nh, imaging.Lanczos)
	} else if bounds.Min != (image.Point{}) {
		// Re-anchor at the origin so region coordinates are stable.
		working = imaging.Clone(img)
	}

	wb := working.Bounds()
	return &Canonical{
		Color:  working,
		Gray:   toGray(working),
		Width:  wb.Dx(),
		Height: wb.Dy(),
	}, nil
}

// EnhanceForOCR applies a linear contrast stretch to the grayscale copy,
// mapping the darkest and brightest observed values to the full range.
// Flat images (no dynamic range) are returned unchanged.
func EnhanceForOCR(gray *image.Gray) *image.Gray {
	if gray == nil {
		return nil
	}
	lo, hi := uint8(255), uint8(0)
	for _, px := range gray.Pix {
		if px < lo {
			lo = px
		}
		if px > hi {
			hi = px
		}
	}
	if hi <= lo {
		return gray
	}
	out := image.NewGray(gray.Bounds())
	span := float64(hi - lo)
	for i, px := range gray.Pix {
		out.Pix[i] = uint8(math.Round(float64(px-lo) / span * 255))
	}
	return out
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	nrgba := imaging.Grayscale(img)
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = nrgba.Pix[y*nrgba.Stride+x*4]
		}
	}
	return gray
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
