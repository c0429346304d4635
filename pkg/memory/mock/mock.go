// Package mock provides a test double for memory.Store.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cherry/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// RecallCall records one Recall invocation.
type RecallCall struct {
	Query string
	Limit int
}

// Store is an in-memory memory.Store. Saved facts are appended to Facts.
// When RecallResult is nil, Recall returns every fact sharing a keyword with
// the query.
type Store struct {
	mu sync.Mutex

	Facts        []memory.Fact
	SaveErr      error
	RecallResult []memory.Fact
	RecallErr    error

	SaveCalls   []string
	RecallCalls []RecallCall
}

// Save records the call and appends the fact unless SaveErr is set.
func (s *Store) Save(_ context.Context, text string) (memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = append(s.SaveCalls, text)
	if s.SaveErr != nil {
		return memory.Fact{}, s.SaveErr
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return memory.Fact{}, memory.ErrEmptyFact
	}
	f := memory.Fact{ID: text, Text: text, CreatedAt: time.Now().UTC()}
	s.Facts = append(s.Facts, f)
	return f, nil
}

// Recall records the call and returns RecallResult, or keyword matches.
func (s *Store) Recall(_ context.Context, query string, limit int) ([]memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecallCalls = append(s.RecallCalls, RecallCall{Query: query, Limit: limit})
	if s.RecallErr != nil {
		return nil, s.RecallErr
	}
	if s.RecallResult != nil {
		return append([]memory.Fact(nil), s.RecallResult...), nil
	}
	var out []memory.Fact
	for _, f := range s.Facts {
		if memory.KeywordScore(query, f.Text) > 0 {
			out = append(out, f)
		}
	}
	return out, nil
}

// All returns a copy of Facts.
func (s *Store) All(context.Context) ([]memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Fact(nil), s.Facts...), nil
}

// Saved returns a copy of the texts passed to Save.
func (s *Store) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.SaveCalls...)
}
