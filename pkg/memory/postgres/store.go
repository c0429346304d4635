// Package postgres provides a PostgreSQL-backed memory.Store. Facts live in a
// single table; recall uses pgvector cosine distance when an embeddings
// provider is configured and full-text search otherwise.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 768, postgres.WithEmbedder(emb))
//	if err != nil { … }
//	defer store.Close()
//	_, _ = store.Save(ctx, "my sister is called Anna")
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/cherry/pkg/memory"
	"github.com/MrWong99/cherry/pkg/provider/embeddings"
)

var _ memory.Store = (*Store)(nil)

// maxCosineDistance drops facts whose embedding is too far from the query.
const maxCosineDistance = 0.65

// Option configures a Store.
type Option func(*Store)

// WithEmbedder enables vector recall.
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Store) { s.embedder = p }
}

// Store is a PostgreSQL-backed memory.Store. It is safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	dims     int
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
//
// embeddingDimensions must match the embeddings model output (768 for
// nomic-embed-text, 1536 for text-embedding-3-small).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{pool: pool, dims: embeddingDimensions}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. It is used as a health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements memory.Store. Duplicates are detected on the lower-cased
// text; the existing row is returned unchanged.
func (s *Store) Save(ctx context.Context, text string) (memory.Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return memory.Fact{}, memory.ErrEmptyFact
	}

	vec := s.embed(ctx, text)
	var arg *pgvector.Vector
	if vec != nil {
		v := pgvector.NewVector(vec)
		arg = &v
	}

	const q = `
INSERT INTO cherry_facts (id, text, text_key, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (text_key) DO UPDATE SET text_key = EXCLUDED.text_key
RETURNING id, text, created_at, embedding`

	row := s.pool.QueryRow(ctx, q, uuid.NewString(), text, strings.ToLower(text), arg)
	f, err := scanFact(row)
	if err != nil {
		return memory.Fact{}, fmt.Errorf("postgres store: save fact: %w", err)
	}
	return f, nil
}

// Recall implements memory.Store.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]memory.Fact, error) {
	if limit <= 0 {
		limit = memory.DefaultRecallLimit
	}
	if vec := s.embed(ctx, query); vec != nil {
		const q = `
SELECT id, text, created_at, embedding
FROM cherry_facts
WHERE embedding IS NOT NULL AND embedding <=> $1 <= $2
ORDER BY embedding <=> $1, created_at DESC
LIMIT $3`
		return s.query(ctx, q, pgvector.NewVector(vec), maxCosineDistance, limit)
	}

	tsq := tsQuery(query)
	if tsq == "" {
		return nil, nil
	}
	const q = `
SELECT id, text, created_at, embedding
FROM cherry_facts
WHERE to_tsvector('english', text) @@ to_tsquery('english', $1)
ORDER BY ts_rank(to_tsvector('english', text), to_tsquery('english', $1)) DESC, created_at DESC
LIMIT $2`
	return s.query(ctx, q, tsq, limit)
}

// All implements memory.Store.
func (s *Store) All(ctx context.Context) ([]memory.Fact, error) {
	return s.query(ctx, `SELECT id, text, created_at, embedding FROM cherry_facts ORDER BY created_at, id`)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]memory.Fact, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query facts: %w", err)
	}
	defer rows.Close()

	var out []memory.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan fact: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate facts: %w", err)
	}
	return out, nil
}

// embed returns the vector of text, or nil when no embedder is configured or
// the embedder fails or returns the wrong dimension.
func (s *Store) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("postgres store: embedding failed, falling back to text search", "err", err)
		return nil
	}
	if len(vec) != s.dims {
		slog.Warn("postgres store: embedding dimension mismatch", "got", len(vec), "want", s.dims)
		return nil
	}
	return vec
}

func scanFact(row pgx.Row) (memory.Fact, error) {
	var (
		f   memory.Fact
		at  time.Time
		vec *pgvector.Vector
	)
	if err := row.Scan(&f.ID, &f.Text, &at, &vec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memory.Fact{}, fmt.Errorf("no row returned: %w", err)
		}
		return memory.Fact{}, err
	}
	f.CreatedAt = at.UTC()
	if vec != nil {
		f.Embedding = vec.Slice()
	}
	return f, nil
}

// tsQuery turns free text into an OR-joined tsquery over its keywords. Only
// letters and digits survive, so the result is safe for to_tsquery.
func tsQuery(text string) string {
	return strings.Join(memory.Keywords(text), " | ")
}
