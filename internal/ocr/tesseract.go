package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract language strings for the supported label languages. The default
// engine pairs English with traditional Chinese, which covers the common
// mixed-script case before the language is known.
const (
	LangChineseTraditional = "chi_tra"
	LangChineseSimplified  = "chi_sim"
	LangEnglish            = "eng"
	LangJapanese           = "jpn"
	LangKorean             = "kor"
	LangDefault            = "eng+chi_tra"
)

// Line confidence assigned when Tesseract cannot report per-line scores and
// recognition falls back to plain text output.
const fallbackLineConfidence = 0.5

// TesseractConfig configures one Tesseract engine instance.
type TesseractConfig struct {
	Languages      string // '+'-joined tesseract language codes
	PageSegMode    int    // tesseract PSM; 6 assumes a uniform text block
	TessdataPrefix string // optional tessdata directory override
}

// DefaultTesseractConfig returns the configuration for the default
// (multi-language) final engine.
func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{
		Languages:   LangDefault,
		PageSegMode: 6,
	}
}

// ProvisionalConfig returns the fast sampling configuration used only to
// gather text for language identification. Sparse page segmentation trades
// accuracy for speed; precision is not required for that pass.
func ProvisionalConfig() TesseractConfig {
	return TesseractConfig{
		Languages:   LangDefault,
		PageSegMode: 11, // sparse text
	}
}

// TesseractEngine recognizes text through gosseract. A fresh client is
// created per invocation since gosseract clients are not reentrant; the
// engine itself is therefore safe for concurrent use.
type TesseractEngine struct {
	cfg TesseractConfig
	id  string
}

// NewTesseractEngine creates an engine for the given configuration.
func NewTesseractEngine(cfg TesseractConfig) (*TesseractEngine, error) {
	if strings.TrimSpace(cfg.Languages) == "" {
		return nil, fmt.Errorf("tesseract languages cannot be empty")
	}
	if cfg.PageSegMode <= 0 {
		cfg.PageSegMode = 6
	}
	return &TesseractEngine{
		cfg: cfg,
		id:  "tesseract:" + cfg.Languages,
	}, nil
}

// ID returns the engine identifier.
func (e *TesseractEngine) ID() string { return e.id }

// Close releases engine resources. Clients are per-call, so this is a no-op.
func (e *TesseractEngine) Close() error { return nil }

// Recognize runs Tesseract over the image. The underlying call cannot be
// interrupted; on context expiry the in-flight result is discarded and the
// context error returned.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type outcome struct {
		lines []Line
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		lines, err := e.recognize(img)
		ch <- outcome{lines: lines, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return &Result{EngineID: e.id, Lines: out.lines}, nil
	}
}

func (e *TesseractEngine) recognize(img image.Image) ([]Line, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode region image: %w", err)
	}

	client := gosseract.NewClient()
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close tesseract client", "error", err)
		}
	}()

	if e.cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.cfg.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(strings.Split(e.cfg.Languages, "+")...); err != nil {
		return nil, fmt.Errorf("failed to set language %q: %w", e.cfg.Languages, err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PageSegMode)); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err == nil {
		lines := make([]Line, 0, len(boxes))
		for _, box := range boxes {
			text := strings.TrimSpace(box.Word)
			if text == "" {
				continue
			}
			lines = append(lines, Line{Text: text, Confidence: box.Confidence / 100.0})
		}
		return lines, nil
	}

	// Line iteration is unsupported for some traineddata combinations;
	// plain text output still works there.
	slog.Debug("Line-level OCR unavailable, falling back to plain text", "error", err)
	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract recognition failed: %w", err)
	}
	var lines []Line
	for _, raw := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			lines = append(lines, Line{Text: trimmed, Confidence: fallbackLineConfidence})
		}
	}
	return lines, nil
}
