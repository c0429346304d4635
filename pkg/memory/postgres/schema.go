package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlFacts returns the fact table DDL with the embedding dimension baked into
// the vector column type.
func ddlFacts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS cherry_facts (
    id          TEXT         PRIMARY KEY,
    text        TEXT         NOT NULL,
    text_key    TEXT         NOT NULL UNIQUE,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cherry_facts_created_at
    ON cherry_facts (created_at);

CREATE INDEX IF NOT EXISTS idx_cherry_facts_embedding
    ON cherry_facts USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_cherry_facts_fts
    ON cherry_facts USING GIN (to_tsvector('english', text));
`, embeddingDimensions)
}

// Migrate creates the pgvector extension and the fact table if missing. It is
// idempotent and safe to call on every start.
//
// Changing embeddingDimensions after the first migration requires dropping
// the table by hand.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlFacts(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
