// Package ocr provides the two recognition passes of the pipeline: a fast
// provisional sampler used for language identification and the
// language-specific final engines whose output feeds extraction. Engines
// are registered per language code; selection is a pure lookup with one
// reserved default entry.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/mediscan-tech/mediscan/internal/detect"
)

// Line is one recognized text line with its recognition confidence in [0,1].
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the output of one OCR pass over one region. Empty Lines is a
// valid, low-information result, not an error.
type Result struct {
	EngineID string       `json:"engineId"`
	Region   detect.Region `json:"region"`
	Lines    []Line       `json:"lines"`
}

// Text joins all recognized lines with newlines.
func (r *Result) Text() string {
	if r == nil || len(r.Lines) == 0 {
		return ""
	}
	parts := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// AvgConfidence returns the mean line confidence, or 0 for empty results.
func (r *Result) AvgConfidence() float64 {
	if r == nil || len(r.Lines) == 0 {
		return 0
	}
	var sum float64
	for _, l := range r.Lines {
		sum += l.Confidence
	}
	return sum / float64(len(r.Lines))
}

// Engine recognizes text in a cropped region image.
// Implementations must be safe for concurrent use.
type Engine interface {
	// ID identifies the engine configuration (e.g. "tesseract:chi_tra").
	ID() string
	// Recognize runs OCR on the image. An image with no recognizable text
	// yields a Result with empty Lines, not an error.
	Recognize(ctx context.Context, img image.Image) (*Result, error)
	Close() error
}

// FailedError indicates an engine invocation failed (crash or timeout) for
// one region after the retry policy was exhausted. It scopes the failure to
// that region; sibling regions in the same run are unaffected.
type FailedError struct {
	EngineID string
	Region   detect.Region
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("ocr failed (engine %s, region %dx%d+%d+%d): %v",
		e.EngineID, e.Region.W, e.Region.H, e.Region.X, e.Region.Y, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }
