// Package extract converts recognized label text into structured medicine
// fields. Matching is rule-first and deterministic: an explicit ordered
// rule list (quantity, ingredients, name) runs over the width-folded line
// sequence, each rule declaring its pattern and confidence formula. Earlier
// rules consume the spans they match so later rules never reuse them.
package extract

import (
	"math"
	"strings"

	"github.com/mediscan-tech/mediscan/internal/ocr"
	"golang.org/x/text/width"
)

// FieldName enumerates the extracted fields.
type FieldName string

const (
	FieldMedicineName FieldName = "medicineName"
	FieldIngredients  FieldName = "ingredients"
	FieldQuantity     FieldName = "quantity"
)

// Match strength factors for the quantity/ingredient confidence formula.
const (
	strengthExact = 1.0
	strengthFuzzy = 0.6
)

// Field is one extracted field. A field with no candidate is present with
// an empty value and confidence 0, never omitted.
type Field struct {
	Name       FieldName `json:"name"`
	Value      string    `json:"value,omitempty"`
	Values     []string  `json:"values,omitempty"` // ingredients only
	Confidence float64   `json:"confidence"`
	EngineID   string    `json:"engineId,omitempty"` // contributing OCR engine
}

// Fields is the full extraction output; all three fields are always set.
type Fields struct {
	MedicineName Field `json:"medicineName"`
	Ingredients  Field `json:"ingredients"`
	Quantity     Field `json:"quantity"`
}

// Weights controls the contribution of each field to the overall record
// confidence. Zero-valued weights fall back to equal weighting.
type Weights struct {
	Name        float64 `json:"name"`
	Ingredients float64 `json:"ingredients"`
	Quantity    float64 `json:"quantity"`
}

// DefaultWeights returns equal weighting.
func DefaultWeights() Weights {
	return Weights{Name: 1, Ingredients: 1, Quantity: 1}
}

// Overall computes the weighted average of the three field confidences,
// rounded to two decimals. This is the only way a record confidence is
// derived; it is never set ad hoc.
func (f Fields) Overall(w Weights) float64 {
	total := w.Name + w.Ingredients + w.Quantity
	if total <= 0 {
		w = DefaultWeights()
		total = 3
	}
	avg := (f.MedicineName.Confidence*w.Name +
		f.Ingredients.Confidence*w.Ingredients +
		f.Quantity.Confidence*w.Quantity) / total
	return math.Round(avg*100) / 100
}

// Config holds extraction parameters.
type Config struct {
	Vocabulary Vocabulary
	Weights    Weights
}

// DefaultConfig returns the default extraction configuration.
func DefaultConfig() Config {
	return Config{
		Vocabulary: DefaultVocabulary(),
		Weights:    DefaultWeights(),
	}
}

// Extractor applies the rule list. It is immutable after construction and
// safe for concurrent use.
type Extractor struct {
	cfg      Config
	matchers *matchers
	rules    []rule
}

// rule binds a field to its matcher pass. Rules run in declared order.
type rule struct {
	field FieldName
	apply func(*scanState)
}

// NewExtractor compiles the vocabulary into matchers.
func NewExtractor(cfg Config) (*Extractor, error) {
	m, err := compileMatchers(cfg.Vocabulary)
	if err != nil {
		return nil, err
	}
	e := &Extractor{cfg: cfg, matchers: m}
	e.rules = []rule{
		{field: FieldQuantity, apply: e.matchQuantity},
		{field: FieldIngredients, apply: e.matchIngredients},
		{field: FieldMedicineName, apply: e.matchName},
	}
	return e, nil
}

// Weights returns the configured field weights.
func (e *Extractor) Weights() Weights { return e.cfg.Weights }

// Extract runs the rule list over the OCR results of one image. Line order
// follows result order (regions by detection confidence, descending) and
// within a result the recognized line order. Empty input yields all three
// fields present with confidence 0.
func (e *Extractor) Extract(results []*ocr.Result) Fields {
	state := newScanState(results)
	for _, r := range e.rules {
		r.apply(state)
	}
	return state.fields()
}

// scanLine is one OCR line prepared for matching. Matched spans are
// consumed so later rules only see leftover text.
type scanLine struct {
	text     string // width-folded
	conf     float64
	engineID string
	consumed []span
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

type scanState struct {
	lines    []scanLine
	quantity Field
	ingreds  Field
	name     Field
}

func newScanState(results []*ocr.Result) *scanState {
	state := &scanState{
		quantity: Field{Name: FieldQuantity},
		ingreds:  Field{Name: FieldIngredients},
		name:     Field{Name: FieldMedicineName},
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, line := range res.Lines {
			text := strings.TrimSpace(width.Narrow.String(line.Text))
			if text == "" {
				continue
			}
			state.lines = append(state.lines, scanLine{
				text:     text,
				conf:     line.Confidence,
				engineID: res.EngineID,
			})
		}
	}
	return state
}

func (s *scanState) fields() Fields {
	return Fields{
		MedicineName: s.name,
		Ingredients:  s.ingreds,
		Quantity:     s.quantity,
	}
}

func (s *scanState) consume(lineIdx int, sp span) {
	s.lines[lineIdx].consumed = append(s.lines[lineIdx].consumed, sp)
}

func (s *scanState) isConsumed(lineIdx int, sp span) bool {
	for _, c := range s.lines[lineIdx].consumed {
		if c.overlaps(sp) {
			return true
		}
	}
	return false
}
