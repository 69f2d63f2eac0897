package ocr

import (
	"fmt"
	"log/slog"

	"github.com/mediscan-tech/mediscan/internal/langid"
)

// Registry maps the closed language-code set to final OCR engines, with one
// reserved default entry. It is populated once at startup and read-only
// afterwards, so lookups are safe for concurrent use.
type Registry struct {
	engines  map[langid.Code]Engine
	fallback Engine
}

// NewRegistry creates a registry with the given default engine and
// per-language entries. The default is mandatory: it serves `unknown`
// guesses, unregistered languages, and the retry pass after a
// language-specific engine fails.
func NewRegistry(fallback Engine, engines map[langid.Code]Engine) (*Registry, error) {
	if fallback == nil {
		return nil, fmt.Errorf("default engine is required")
	}
	reg := &Registry{
		engines:  make(map[langid.Code]Engine, len(engines)),
		fallback: fallback,
	}
	for code, engine := range engines {
		if !langid.Valid(code) || code == langid.Unknown {
			return nil, fmt.Errorf("cannot register engine for language %q", code)
		}
		if engine == nil {
			return nil, fmt.Errorf("nil engine registered for language %q", code)
		}
		reg.engines[code] = engine
	}
	return reg, nil
}

// ForLanguage selects the engine for a language guess. The selection is a
// pure function of the registry contents: a registered language yields its
// engine, anything else yields the default.
func (r *Registry) ForLanguage(code langid.Code) Engine {
	if engine, ok := r.engines[code]; ok {
		return engine
	}
	return r.fallback
}

// Default returns the reserved default engine.
func (r *Registry) Default() Engine { return r.fallback }

// Languages returns the codes with a dedicated engine registered.
func (r *Registry) Languages() []langid.Code {
	codes := make([]langid.Code, 0, len(r.engines))
	for code := range r.engines {
		codes = append(codes, code)
	}
	return codes
}

// Close closes all registered engines, including the default.
func (r *Registry) Close() error {
	var firstErr error
	for code, engine := range r.engines {
		if err := engine.Close(); err != nil {
			slog.Warn("Failed to close OCR engine", "language", string(code), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := r.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// NewTesseractRegistry builds the standard registry: one Tesseract engine
// per supported language plus the multi-language default.
func NewTesseractRegistry(tessdataPrefix string) (*Registry, error) {
	langs := map[langid.Code]string{
		langid.ChineseTraditional: LangChineseTraditional,
		langid.ChineseSimplified:  LangChineseSimplified,
		langid.English:            LangEnglish,
		langid.Japanese:           LangJapanese,
		langid.Korean:             LangKorean,
	}
	engines := make(map[langid.Code]Engine, len(langs))
	for code, tessLang := range langs {
		engine, err := NewTesseractEngine(TesseractConfig{
			Languages:      tessLang,
			PageSegMode:    6,
			TessdataPrefix: tessdataPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("engine for %s: %w", code, err)
		}
		engines[code] = engine
	}

	cfg := DefaultTesseractConfig()
	cfg.TessdataPrefix = tessdataPrefix
	fallback, err := NewTesseractEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("default engine: %w", err)
	}
	return NewRegistry(fallback, engines)
}
