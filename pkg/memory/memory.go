// Package memory defines Cherry's long-term fact store: short statements the
// user asked the assistant to remember ("my sister's name is Anna"), recalled
// later to ground replies.
//
// Two backends exist: [github.com/MrWong99/cherry/pkg/memory/file] keeps facts
// in a JSON file next to the config, and
// [github.com/MrWong99/cherry/pkg/memory/postgres] stores them in PostgreSQL
// with pgvector similarity search. Both rank recall by embedding similarity
// when an embeddings provider is configured and fall back to keyword overlap
// otherwise.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultRecallLimit is used when Recall is called with a non-positive limit.
const DefaultRecallLimit = 5

// ErrEmptyFact is returned by Save for blank text.
var ErrEmptyFact = errors.New("memory: fact must not be empty")

// Fact is one remembered statement.
type Fact struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// Embedding is the vector of Text, absent when no embeddings provider was
	// configured at save time.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Store persists and retrieves facts.
type Store interface {
	// Save stores text as a new fact. Saving text identical (ignoring case
	// and surrounding space) to an existing fact returns the existing fact.
	Save(ctx context.Context, text string) (Fact, error)

	// Recall returns up to limit facts relevant to query, best match first.
	// Facts with no relation to the query are omitted.
	Recall(ctx context.Context, query string, limit int) ([]Fact, error)

	// All returns every stored fact, oldest first.
	All(ctx context.Context) ([]Fact, error)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// KeywordScore is the fraction of the query's keywords that appear in text.
// Keywords are lower-cased words of three or more letters.
func KeywordScore(query, text string) float64 {
	q := Keywords(query)
	if len(q) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, w := range Keywords(text) {
		have[w] = true
	}
	hits := 0
	for _, w := range q {
		if have[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

// Keywords splits text into distinct lower-cased words of three or more
// letters or digits.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// SameText reports whether two fact texts are duplicates.
func SameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// PromptSection renders facts as a block to append to a system prompt. It
// returns "" for no facts.
func PromptSection(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Things you remember about the user:")
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f.Text)
	}
	return b.String()
}
