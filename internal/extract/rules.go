package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// matchers holds the patterns compiled from one vocabulary.
type matchers struct {
	countRe      *regexp.Regexp
	doseRe       *regexp.Regexp
	stoplist     []string
	nameKeywords []string
}

// namePattern matches the ingredient-name token preceding an amount: one
// or more letter words, any script, so mixed forms like "維他命C" stay whole.
const namePattern = `[\pL][\pL'\-]*(?:[ \t][\pL][\pL'\-]*)*`

func compileMatchers(v Vocabulary) (*matchers, error) {
	if len(v.DoseUnits) == 0 || len(v.CountUnits) == 0 {
		return nil, fmt.Errorf("vocabulary must define dose and count units")
	}

	countRe, err := regexp.Compile(`(?i)(\d+(?:\.\d+)?)[ \t]*(` + alternation(v.CountUnits) + `)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile count-unit pattern: %w", err)
	}
	doseRe, err := regexp.Compile(
		`(?i)(` + namePattern + `[ \t]*)?(\d+(?:\.\d+)?)[ \t]*(` + alternation(v.DoseUnits) + `)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile dose pattern: %w", err)
	}

	return &matchers{
		countRe:      countRe,
		doseRe:       doseRe,
		stoplist:     foldAll(v.Stoplist),
		nameKeywords: foldAll(v.NameKeywords),
	}, nil
}

// alternation builds a regex alternation with longer units first so plural
// forms win over their embedded singulars.
func alternation(units []string) string {
	sorted := make([]string, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, u := range sorted {
		quoted[i] = regexp.QuoteMeta(u)
	}
	return strings.Join(quoted, "|")
}

func foldAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(w)
	}
	return out
}

// matchStrength implements the exact/fuzzy factor: a unit that runs into
// further Latin letters (e.g. vocabulary "tab" matched inside "tabs") is a
// fuzzy match.
func matchStrength(text string, unitEnd int) float64 {
	if unitEnd < len(text) {
		r, _ := utf8.DecodeRuneInString(text[unitEnd:])
		if unicode.Is(unicode.Latin, r) {
			return strengthFuzzy
		}
	}
	return strengthExact
}

// matchQuantity finds the package quantity: the first numeric token
// adjacent to a count unit, in line order. Confidence is the line OCR
// confidence times the match strength. When no count unit appears at all,
// the first dose match stands in (content amount as package quantity, the
// way loose labels state it); that fallback span is deliberately left
// unconsumed so the ingredient rule still sees it.
func (e *Extractor) matchQuantity(s *scanState) {
	for i := range s.lines {
		line := &s.lines[i]
		m := e.matchers.countRe.FindStringSubmatchIndex(line.text)
		if m == nil {
			continue
		}
		sp := span{start: m[0], end: m[1]}
		s.quantity = Field{
			Name:       FieldQuantity,
			Value:      collapseSpaces(line.text[sp.start:sp.end]),
			Confidence: line.conf * matchStrength(line.text, m[5]),
			EngineID:   line.engineID,
		}
		s.consume(i, sp)
		return
	}

	for i := range s.lines {
		line := &s.lines[i]
		m := e.matchers.doseRe.FindStringSubmatchIndex(line.text)
		if m == nil {
			continue
		}
		// Number + unit groups only; a leading ingredient name stays out
		// of the quantity value.
		s.quantity = Field{
			Name:       FieldQuantity,
			Value:      collapseSpaces(line.text[m[4]:m[7]]),
			Confidence: line.conf * matchStrength(line.text, m[7]),
			EngineID:   line.engineID,
		}
		return
	}
}

// matchIngredients collects all non-overlapping dose-grammar matches
// (optional name token, number, dose unit) in line order, deduplicating
// exact repeats. Field confidence is the mean of the per-match line
// confidence times match strength.
func (e *Extractor) matchIngredients(s *scanState) {
	seen := make(map[string]bool)
	var confSum float64
	var count int

	for i := range s.lines {
		line := &s.lines[i]
		for _, m := range e.matchers.doseRe.FindAllStringSubmatchIndex(line.text, -1) {
			sp := span{start: m[0], end: m[1]}
			if s.isConsumed(i, sp) {
				continue
			}
			value := collapseSpaces(line.text[sp.start:sp.end])
			s.consume(i, sp)
			if seen[value] {
				continue
			}
			seen[value] = true
			s.ingreds.Values = append(s.ingreds.Values, value)
			confSum += line.conf * matchStrength(line.text, m[7])
			count++
			if s.ingreds.EngineID == "" {
				s.ingreds.EngineID = line.engineID
			}
		}
	}

	if count > 0 {
		s.ingreds.Confidence = confSum / float64(count)
		s.ingreds.Value = strings.Join(s.ingreds.Values, "; ")
	}
}

// matchName ranks the leftover (non-matched) text. Candidates are filtered
// against the stoplist and scored by position, length and letter density;
// lines carrying an explicit name keyword get a bonus, and text after a
// keyword's colon is preferred over the whole line. The top score wins and
// becomes the field confidence.
func (e *Extractor) matchName(s *scanState) {
	total := len(s.lines)
	var bestScore float64
	for i := range s.lines {
		line := &s.lines[i]
		candidate, hasKeyword := e.nameCandidate(line)
		if candidate == "" || e.onlyKeywords(candidate) {
			continue
		}
		score := scoreName(candidate, i, total, hasKeyword)
		if score > bestScore {
			bestScore = score
			s.name = Field{
				Name:       FieldMedicineName,
				Value:      candidate,
				Confidence: score,
				EngineID:   line.engineID,
			}
		}
	}
}

// nameCandidate returns the unconsumed text of a line, narrowed to the
// part after the colon when the line labels the name explicitly
// ("品名: X" style).
func (e *Extractor) nameCandidate(line *scanLine) (string, bool) {
	lower := strings.ToLower(line.text)
	hasKeyword := false
	for _, kw := range e.matchers.nameKeywords {
		if strings.Contains(lower, kw) {
			hasKeyword = true
			break
		}
	}

	from := 0
	if hasKeyword {
		if idx := strings.IndexRune(line.text, ':'); idx >= 0 {
			from = idx + 1
		}
	}
	return collapseSpaces(leftover(line, from)), hasKeyword
}

// leftover reconstructs line text from `from` onwards with consumed spans
// blanked out.
func leftover(line *scanLine, from int) string {
	var b strings.Builder
	for i := from; i < len(line.text); {
		covered := false
		for _, sp := range line.consumed {
			if i >= sp.start && i < sp.end {
				i = sp.end
				b.WriteByte(' ')
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		r, size := utf8.DecodeRuneInString(line.text[i:])
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// onlyKeywords reports whether the candidate contains nothing beyond
// stoplist and name-keyword vocabulary.
func (e *Extractor) onlyKeywords(candidate string) bool {
	reduced := strings.ToLower(candidate)
	for _, kw := range e.matchers.stoplist {
		reduced = strings.ReplaceAll(reduced, kw, " ")
	}
	for _, kw := range e.matchers.nameKeywords {
		reduced = strings.ReplaceAll(reduced, kw, " ")
	}
	for _, r := range reduced {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// scoreName is the heuristic name scorer: position (earlier lines carry
// the brand), length, and letter/script density, with a bonus for explicit
// name-keyword lines. The result is normalized to [0,1].
func scoreName(candidate string, lineIdx, totalLines int, hasKeyword bool) float64 {
	if totalLines < 1 {
		totalLines = 1
	}
	pos := 1 - float64(lineIdx)/float64(totalLines)

	runes := 0
	letters := 0
	for _, r := range candidate {
		runes++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if runes == 0 {
		return 0
	}
	length := float64(runes) / 20
	if length > 1 {
		length = 1
	}
	density := float64(letters) / float64(runes)

	score := 0.5*pos + 0.2*length + 0.3*density
	if hasKeyword {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}

var spaceRun = regexp.MustCompile(`\s+`)

// collapseSpaces trims and squeezes whitespace, and strips leading/trailing
// separator punctuation left behind by span removal.
func collapseSpaces(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, " :;,.·-–—()[]|")
}
