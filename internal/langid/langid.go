// Package langid classifies OCR text samples into the closed set of
// languages the recognizer supports. The classifier is a deterministic
// script-frequency heuristic: it needs no model files, which keeps the
// provisional pass cheap, and its confidence reflects how dominant the
// winning script actually is in the sample.
package langid

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Code is a supported language code.
type Code string

const (
	ChineseTraditional Code = "zh-tw"
	ChineseSimplified  Code = "zh-cn"
	English            Code = "en"
	Japanese           Code = "ja"
	Korean             Code = "ko"
	Unknown            Code = "unknown"
)

// Supported returns the closed set of identifiable languages, excluding
// Unknown.
func Supported() []Code {
	return []Code{ChineseTraditional, ChineseSimplified, English, Japanese, Korean}
}

// Valid reports whether c is a member of the closed set (including Unknown).
func Valid(c Code) bool {
	switch c {
	case ChineseTraditional, ChineseSimplified, English, Japanese, Korean, Unknown:
		return true
	}
	return false
}

// Guess is a classification result. Confidence is preserved even when the
// code degrades to Unknown so callers can log how close the call was.
type Guess struct {
	Code       Code    `json:"code"`
	Confidence float64 `json:"confidence"`
}

// Config holds classifier parameters.
type Config struct {
	ConfThreshold  float64 // below this the guess degrades to Unknown
	MinSampleRunes int     // samples shorter than this are Unknown outright
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{
		ConfThreshold:  0.5,
		MinSampleRunes: 4,
	}
}

// Identifier classifies text samples. It is stateless and safe for
// concurrent use.
type Identifier struct {
	cfg Config
}

// NewIdentifier creates an identifier with the given configuration.
func NewIdentifier(cfg Config) *Identifier {
	if cfg.MinSampleRunes <= 0 {
		cfg.MinSampleRunes = DefaultConfig().MinSampleRunes
	}
	return &Identifier{cfg: cfg}
}

type scriptCounts struct {
	han      int
	hiragana int
	katakana int
	hangul   int
	latin    int
}

func (s scriptCounts) total() int {
	return s.han + s.hiragana + s.katakana + s.hangul + s.latin
}

func (s scriptCounts) kana() int { return s.hiragana + s.katakana }

// Identify classifies a text sample. A sample that is too short, or whose
// dominant-script share falls below the configured threshold, yields
// Unknown with the raw confidence preserved; it never silently defaults to
// a "most likely" language.
func (id *Identifier) Identify(text string) Guess {
	counts := countScripts(norm.NFKC.String(text))
	total := counts.total()
	if total < id.cfg.MinSampleRunes {
		return Guess{Code: Unknown, Confidence: 0}
	}

	code, conf := classify(counts, text)
	if conf < id.cfg.ConfThreshold {
		return Guess{Code: Unknown, Confidence: conf}
	}
	return Guess{Code: code, Confidence: conf}
}

func classify(counts scriptCounts, text string) (Code, float64) {
	total := float64(counts.total())

	// Kana is unique to Japanese; Japanese labels mix kana with Han, so
	// Han runes count toward the Japanese share once kana is present.
	if counts.kana() > 0 && float64(counts.kana()) >= 0.05*total {
		return Japanese, float64(counts.kana()+counts.han) / total
	}
	if counts.hangul > 0 {
		return Korean, float64(counts.hangul) / total
	}
	if counts.han > 0 && counts.han >= counts.latin {
		return chineseVariant(text), float64(counts.han) / total
	}
	if counts.latin > 0 {
		return English, float64(counts.latin) / total
	}
	return Unknown, 0
}

// chineseVariant discriminates simplified from traditional Chinese by
// counting characters exclusive to each writing system. Traditional wins
// ties, matching the dominant script on Taiwanese packaging this system
// was built around.
func chineseVariant(text string) Code {
	var simplified, traditional int
	for _, r := range text {
		if strings.ContainsRune(simplifiedOnly, r) {
			simplified++
		}
		if strings.ContainsRune(traditionalOnly, r) {
			traditional++
		}
	}
	if simplified > traditional {
		return ChineseSimplified
	}
	return ChineseTraditional
}

func countScripts(text string) scriptCounts {
	var counts scriptCounts
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			counts.han++
		case unicode.Is(unicode.Hiragana, r):
			counts.hiragana++
		case unicode.Is(unicode.Katakana, r):
			counts.katakana++
		case unicode.Is(unicode.Hangul, r):
			counts.hangul++
		case unicode.Is(unicode.Latin, r):
			counts.latin++
		}
	}
	return counts
}
