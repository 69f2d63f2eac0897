// Package pipeline orchestrates the medicine-label recognition flow:
// normalize, detect label regions, provisionally read a text sample,
// identify the label language, run the final language-specific OCR pass,
// and extract structured fields. Front and back images run through the
// same stages and merge into a single record.
package pipeline

import (
	"fmt"
	"time"

	"github.com/mediscan-tech/mediscan/internal/detect"
	"github.com/mediscan-tech/mediscan/internal/extract"
	"github.com/mediscan-tech/mediscan/internal/langid"
	"github.com/mediscan-tech/mediscan/internal/ocr"
	"github.com/mediscan-tech/mediscan/internal/preprocess"
)

// Timeouts bounds each processing stage. A stage that exceeds its budget
// fails exactly like any other error at that stage. Zero values fall back
// to the defaults.
type Timeouts struct {
	Normalize   time.Duration
	Detect      time.Duration
	Provisional time.Duration
	Recognize   time.Duration // per final OCR attempt, per region
	Extract     time.Duration
}

// DefaultTimeouts returns the default per-stage budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Normalize:   5 * time.Second,
		Detect:      10 * time.Second,
		Provisional: 15 * time.Second,
		Recognize:   30 * time.Second,
		Extract:     5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Normalize <= 0 {
		t.Normalize = def.Normalize
	}
	if t.Detect <= 0 {
		t.Detect = def.Detect
	}
	if t.Provisional <= 0 {
		t.Provisional = def.Provisional
	}
	if t.Recognize <= 0 {
		t.Recognize = def.Recognize
	}
	if t.Extract <= 0 {
		t.Extract = def.Extract
	}
	return t
}

// Config holds configuration for the pipeline and its components.
type Config struct {
	Preprocess     preprocess.Config
	Detector       detect.Config
	Provisional    ocr.TesseractConfig
	TessdataPrefix string
	LangID         langid.Config
	Extract        extract.Config
	Timeouts       Timeouts
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		Preprocess:  preprocess.DefaultConfig(),
		Detector:    detect.DefaultConfig(),
		Provisional: ocr.ProvisionalConfig(),
		LangID:      langid.DefaultConfig(),
		Extract:     extract.DefaultConfig(),
		Timeouts:    DefaultTimeouts(),
	}
}

// Builder constructs a Pipeline with fluent configuration. Component
// instances set explicitly take precedence over the config-driven ones,
// which keeps the orchestration testable without model files.
type Builder struct {
	cfg         Config
	detector    detect.Detector
	provisional ocr.Engine
	registry    *ocr.Registry
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithDetectorModelPath sets the region detection model path.
func (b *Builder) WithDetectorModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
	}
	return b
}

// WithTessdataPrefix sets the directory holding Tesseract language data.
func (b *Builder) WithTessdataPrefix(dir string) *Builder {
	b.cfg.TessdataPrefix = dir
	return b
}

// WithVocabulary overrides the extraction vocabulary.
func (b *Builder) WithVocabulary(v extract.Vocabulary) *Builder {
	b.cfg.Extract.Vocabulary = v
	return b
}

// WithWeights sets the field weights for the overall record confidence.
func (b *Builder) WithWeights(w extract.Weights) *Builder {
	b.cfg.Extract.Weights = w
	return b
}

// WithLanguageThreshold sets the minimum language-identification
// confidence below which the guess collapses to unknown.
func (b *Builder) WithLanguageThreshold(threshold float64) *Builder {
	if threshold > 0 {
		b.cfg.LangID.ConfThreshold = threshold
	}
	return b
}

// WithTimeouts sets the per-stage budgets.
func (b *Builder) WithTimeouts(t Timeouts) *Builder {
	b.cfg.Timeouts = t
	return b
}

// WithDetector injects a region detector instance.
func (b *Builder) WithDetector(d detect.Detector) *Builder {
	b.detector = d
	return b
}

// WithProvisionalEngine injects the provisional OCR engine.
func (b *Builder) WithProvisionalEngine(e ocr.Engine) *Builder {
	b.provisional = e
	return b
}

// WithRegistry injects the final OCR engine registry.
func (b *Builder) WithRegistry(r *ocr.Registry) *Builder {
	b.registry = r
	return b
}

// Pipeline runs the recognition stages. It is safe for concurrent use once
// built; all mutable state lives in the per-image run.
type Pipeline struct {
	cfg         Config
	detector    detect.Detector
	provisional ocr.Engine
	registry    *ocr.Registry
	identifier  *langid.Identifier
	extractor   *extract.Extractor
}

// Build initializes the pipeline components. Components injected on the
// builder are used as-is; the rest are constructed from the config.
func (b *Builder) Build() (*Pipeline, error) {
	b.cfg.Timeouts = b.cfg.Timeouts.withDefaults()

	extractor, err := extract.NewExtractor(b.cfg.Extract)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	p := &Pipeline{
		cfg:         b.cfg,
		detector:    b.detector,
		provisional: b.provisional,
		registry:    b.registry,
		identifier:  langid.NewIdentifier(b.cfg.LangID),
		extractor:   extractor,
	}

	if p.detector == nil {
		det, err := detect.NewModelDetector(b.cfg.Detector)
		if err != nil {
			return nil, fmt.Errorf("init detector: %w", err)
		}
		p.detector = det
	}
	if p.provisional == nil {
		cfg := b.cfg.Provisional
		if cfg.TessdataPrefix == "" {
			cfg.TessdataPrefix = b.cfg.TessdataPrefix
		}
		engine, err := ocr.NewTesseractEngine(cfg)
		if err != nil {
			_ = p.detector.Close()
			return nil, fmt.Errorf("init provisional engine: %w", err)
		}
		p.provisional = engine
	}
	if p.registry == nil {
		registry, err := ocr.NewTesseractRegistry(b.cfg.TessdataPrefix)
		if err != nil {
			_ = p.provisional.Close()
			_ = p.detector.Close()
			return nil, fmt.Errorf("init engine registry: %w", err)
		}
		p.registry = registry
	}
	return p, nil
}

// Weights returns the configured field weights.
func (p *Pipeline) Weights() extract.Weights { return p.cfg.Extract.Weights }

// Close releases the detector and all OCR engines.
func (p *Pipeline) Close() error {
	var firstErr error
	if err := p.detector.Close(); err != nil {
		firstErr = err
	}
	if err := p.provisional.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
