// Package file provides a memory.Store that keeps facts in a single JSON file.
//
// The whole file is rewritten atomically (temp file + rename) on every Save.
// Fact counts for a personal assistant stay small, so recall scans in memory.
package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cherry/pkg/memory"
	"github.com/MrWong99/cherry/pkg/provider/embeddings"
)

var _ memory.Store = (*Store)(nil)

// minSimilarity is the cosine similarity below which an embedded fact is
// considered unrelated to the query.
const minSimilarity = 0.35

// Option configures a Store.
type Option func(*Store)

// WithEmbedder enables semantic recall. Facts saved without an embedder are
// still matched by keyword.
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Store) { s.embedder = p }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a JSON-file-backed memory.Store.
type Store struct {
	path     string
	embedder embeddings.Provider
	now      func() time.Time

	mu    sync.Mutex
	facts []memory.Fact
}

// Open loads the facts stored at path. A missing file is an empty store; the
// file and its directory are created on the first Save.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("memory file: path must not be empty")
	}
	s := &Store{path: path, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("memory file: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.facts); err != nil {
		return nil, fmt.Errorf("memory file: parse %s: %w", path, err)
	}
	return s, nil
}

// Save implements memory.Store. An embedding failure is logged and the fact
// is stored without a vector.
func (s *Store) Save(ctx context.Context, text string) (memory.Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return memory.Fact{}, memory.ErrEmptyFact
	}

	if f, ok := s.find(text); ok {
		return f, nil
	}

	fact := memory.Fact{ID: uuid.NewString(), Text: text, CreatedAt: s.now().UTC()}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("memory file: embedding failed, storing fact without vector", "err", err)
		} else {
			fact.Embedding = vec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.facts {
		if memory.SameText(f.Text, text) {
			return f, nil
		}
	}
	next := append(slices.Clone(s.facts), fact)
	if err := s.write(next); err != nil {
		return memory.Fact{}, err
	}
	s.facts = next
	return fact, nil
}

// Recall implements memory.Store.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]memory.Fact, error) {
	if limit <= 0 {
		limit = memory.DefaultRecallLimit
	}
	var qvec []float32
	if s.embedder != nil && strings.TrimSpace(query) != "" {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("memory file: query embedding failed, using keywords", "err", err)
		} else {
			qvec = vec
		}
	}

	s.mu.Lock()
	facts := slices.Clone(s.facts)
	s.mu.Unlock()

	type scored struct {
		fact  memory.Fact
		score float64
	}
	var hits []scored
	for _, f := range facts {
		var score float64
		if qvec != nil && len(f.Embedding) == len(qvec) {
			score = memory.CosineSimilarity(qvec, f.Embedding)
			if score < minSimilarity {
				score = 0
			}
		} else {
			score = memory.KeywordScore(query, f.Text)
		}
		if score > 0 {
			hits = append(hits, scored{f, score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return b.fact.CreatedAt.Compare(a.fact.CreatedAt)
	})

	out := make([]memory.Fact, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.fact)
	}
	return out, nil
}

// All implements memory.Store.
func (s *Store) All(context.Context) ([]memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.facts), nil
}

func (s *Store) find(text string) (memory.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.facts {
		if memory.SameText(f.Text, text) {
			return f, true
		}
	}
	return memory.Fact{}, false
}

// write persists facts atomically. Callers hold s.mu.
func (s *Store) write(facts []memory.Fact) error {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("memory file: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory file: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".facts-*.json")
	if err != nil {
		return fmt.Errorf("memory file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("memory file: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory file: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("memory file: replace %s: %w", s.path, err)
	}
	return nil
}
