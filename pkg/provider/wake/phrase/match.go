package phrase

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Matcher scores transcribed text against a wake phrase using Double
// Metaphone candidate filtering followed by Jaro-Winkler ranking. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phrase      []string
	phraseCodes []map[string]struct{}
	threshold   float64
}

// NewMatcher returns a Matcher for phrase. threshold is the minimum
// Jaro-Winkler similarity (0–1) of a phonetically aligned candidate.
func NewMatcher(phrase string, threshold float64) *Matcher {
	tokens := normalise(phrase)
	codes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		codes[i] = codesFor(t)
	}
	return &Matcher{phrase: tokens, phraseCodes: codes, threshold: threshold}
}

// Match reports whether text contains the phrase, returning the best score
// found. Every window of len(phrase) consecutive words is a candidate; a
// candidate is accepted when each of its words shares a phonetic code with
// the corresponding phrase word (or is an exact match) and the joined
// Jaro-Winkler similarity reaches the threshold.
func (m *Matcher) Match(text string) (score float64, matched bool) {
	n := len(m.phrase)
	if n == 0 {
		return 0, false
	}
	words := normalise(text)
	target := strings.Join(m.phrase, " ")
	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		if !m.aligned(window) {
			continue
		}
		s := matchr.JaroWinkler(strings.Join(window, " "), target, false)
		if concat := matchr.JaroWinkler(strings.Join(window, ""), strings.Join(m.phrase, ""), false); concat > s {
			s = concat
		}
		if s > score {
			score = s
		}
	}
	return score, score > 0 && score >= m.threshold
}

func (m *Matcher) aligned(window []string) bool {
	for i, w := range window {
		if w == m.phrase[i] {
			continue
		}
		if !overlap(codesFor(w), m.phraseCodes[i]) {
			return false
		}
	}
	return true
}

// normalise lowercases s and splits it into words, dropping punctuation.
func normalise(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
