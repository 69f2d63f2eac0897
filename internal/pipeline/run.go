package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mediscan-tech/mediscan/internal/detect"
	"github.com/mediscan-tech/mediscan/internal/extract"
	"github.com/mediscan-tech/mediscan/internal/langid"
	"github.com/mediscan-tech/mediscan/internal/ocr"
	"github.com/mediscan-tech/mediscan/internal/preprocess"
)

// Side names the label image within a scan.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// SideResult is the outcome of running one image through all stages.
type SideResult struct {
	Side       Side           `json:"side"`
	Language   langid.Guess   `json:"language"`
	Fields     extract.Fields `json:"fields"`
	Confidence float64        `json:"confidence"`
	Regions    int            `json:"regions"`
	Duration   time.Duration  `json:"-"`
}

// Progress reports a completed stage for one side of a scan.
type Progress struct {
	Side  Side  `json:"side"`
	Stage Stage `json:"stage"`
}

// ProgressFunc receives stage-completion events during a scan. Both sides
// of a pair run concurrently, so callbacks must be safe for concurrent use.
type ProgressFunc func(Progress)

func (f ProgressFunc) notify(side Side, stage Stage) {
	if f != nil {
		f(Progress{Side: side, Stage: stage})
	}
}

// ProcessImage runs the full stage sequence on one image. Failures carry
// the failing stage via *StageError; region-level OCR failures are
// isolated and only fail the run when no region survives.
func (p *Pipeline) ProcessImage(ctx context.Context, data []byte, side Side) (*SideResult, error) {
	return p.processImage(ctx, data, side, nil)
}

func (p *Pipeline) processImage(ctx context.Context, data []byte, side Side, progress ProgressFunc) (*SideResult, error) {
	start := time.Now()
	log := slog.With("side", string(side))

	canon, err := p.normalize(ctx, data)
	if err != nil {
		return nil, failedAt(StageNormalized, err)
	}
	log.Debug("Image normalized", "width", canon.Width, "height", canon.Height)
	progress.notify(side, StageNormalized)

	regions, err := p.detectRegions(ctx, canon)
	if err != nil {
		return nil, failedAt(StageDetected, err)
	}
	log.Debug("Label regions detected", "count", len(regions), "fallback", regions[0].Fallback)
	progress.notify(side, StageDetected)

	guess := p.identifyLanguage(ctx, canon, regions[0], log)
	log.Debug("Language identified", "language", string(guess.Code), "confidence", guess.Confidence)
	progress.notify(side, StageLanguageIdentified)

	results, err := p.recognizeRegions(ctx, canon, regions, guess.Code, log)
	if err != nil {
		return nil, failedAt(StageRecognized, err)
	}
	progress.notify(side, StageRecognized)

	fields, err := withBudget(ctx, p.cfg.Timeouts.Extract, func() (extract.Fields, error) {
		return p.extractor.Extract(results), nil
	})
	if err != nil {
		return nil, failedAt(StageExtracted, err)
	}
	progress.notify(side, StageExtracted)

	res := &SideResult{
		Side:       side,
		Language:   guess,
		Fields:     fields,
		Confidence: fields.Overall(p.cfg.Extract.Weights),
		Regions:    len(results),
		Duration:   time.Since(start),
	}
	log.Info("Image processed",
		"language", string(guess.Code),
		"regions", res.Regions,
		"confidence", res.Confidence,
		"duration", res.Duration)
	return res, nil
}

func (p *Pipeline) normalize(ctx context.Context, data []byte) (*canonical, error) {
	return withBudget(ctx, p.cfg.Timeouts.Normalize, func() (*canonical, error) {
		c, err := preprocess.Normalize(data, p.cfg.Preprocess)
		if err != nil {
			return nil, err
		}
		return &canonical{Canonical: c, Enhanced: preprocess.EnhanceForOCR(c.Gray)}, nil
	})
}

// withBudget runs fn under the stage budget. The work is CPU-bound and
// cannot be interrupted, so an expired budget abandons the result.
func withBudget[T any](ctx context.Context, budget time.Duration, fn func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	bctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := fn()
		ch <- outcome{value, err}
	}()

	select {
	case <-bctx.Done():
		var zero T
		return zero, bctx.Err()
	case out := <-ch:
		return out.value, out.err
	}
}

func (p *Pipeline) detectRegions(ctx context.Context, canon *canonical) ([]detect.Region, error) {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Detect)
	defer cancel()

	regions, err := p.detector.Detect(dctx, canon.Canonical)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		// Detectors fall back to the whole image themselves; an empty
		// slice here means a broken implementation.
		return nil, fmt.Errorf("detector returned no regions")
	}
	return regions, nil
}

// identifyLanguage samples the top-confidence region with the provisional
// engine and classifies the text. Any provisional failure degrades to
// unknown so the final pass still runs with the default engine.
func (p *Pipeline) identifyLanguage(ctx context.Context, canon *canonical, top detect.Region, log *slog.Logger) langid.Guess {
	octx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Provisional)
	defer cancel()

	sample, err := p.provisional.Recognize(octx, canon.crop(top))
	if err != nil {
		log.Warn("Provisional OCR failed, language set to unknown", "error", err)
		return langid.Guess{Code: langid.Unknown}
	}
	return p.identifier.Identify(sample.Text())
}

// recognizeRegions runs the final OCR pass region by region. A failing
// region is retried once with the default engine; an exhausted region is
// wrapped in *ocr.FailedError and skipped, and only an empty survivor set
// fails the stage, carrying all region failures.
func (p *Pipeline) recognizeRegions(ctx context.Context, canon *canonical,
	regions []detect.Region, code langid.Code, log *slog.Logger,
) ([]*ocr.Result, error) {
	engine := p.registry.ForLanguage(code)
	fallback := p.registry.Default()

	results := make([]*ocr.Result, 0, len(regions))
	var failures []error
	for _, region := range regions {
		crop := canon.crop(region)

		used := engine
		result, err := p.recognizeOne(ctx, engine, crop)
		if err != nil && engine != fallback {
			log.Warn("Region OCR failed, retrying with default engine",
				"engine", engine.ID(), "error", err)
			used = fallback
			result, err = p.recognizeOne(ctx, fallback, crop)
		}
		if err != nil {
			ferr := &ocr.FailedError{EngineID: used.ID(), Region: region, Err: err}
			log.Warn("Region OCR failed, region skipped", "error", ferr)
			failures = append(failures, ferr)
			continue
		}
		result.Region = region
		results = append(results, result)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("no region produced a recognition result: %w", errors.Join(failures...))
	}
	return results, nil
}

func (p *Pipeline) recognizeOne(ctx context.Context, engine ocr.Engine, crop image.Image) (*ocr.Result, error) {
	octx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Recognize)
	defer cancel()
	return engine.Recognize(octx, crop)
}

// canonical bundles the normalized image with its OCR-enhanced grayscale.
type canonical struct {
	*preprocess.Canonical
	Enhanced *image.Gray
}

// crop cuts the region out of the enhanced grayscale for OCR.
func (c *canonical) crop(r detect.Region) image.Image {
	return imaging.Crop(c.Enhanced, r.Bounds())
}
