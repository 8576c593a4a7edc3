// Package knowledge stores embedded document fragments in a tenant-namespaced
// pgvector index and answers similarity queries scoped to one tenant.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one embedded fragment of a tenant document.
type Chunk struct {
	Source    string
	Seq       int
	Content   string
	Embedding []float32
}

// Match is one ranked similarity result.
type Match struct {
	Content string
	Source  string
	Score   float64
}

type Index struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewIndex(pool *pgxpool.Pool, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{pool: pool, logger: logger}
}

// chunkID builds the stable per-chunk identifier so re-ingesting a document
// replaces its previous chunks instead of accumulating duplicates.
func chunkID(tenantID int64, source string, seq int) string {
	return fmt.Sprintf("tenant_%d::doc_%s::chunk_%d", tenantID, source, seq)
}

// Upsert writes chunks into the tenant's namespace.
func (ix *Index) Upsert(ctx context.Context, tenantID int64, chunks []Chunk) error {
	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO knowledge_chunks (id, tenant_id, source, seq, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, created_at = now()`,
			chunkID(tenantID, c.Source, c.Seq), tenantID, c.Source, c.Seq, c.Content,
			pgvector.NewVector(c.Embedding),
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %d of %q: %w", c.Seq, c.Source, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	ix.logger.Info("stored knowledge chunks", "tenant_id", tenantID, "chunks", len(chunks))
	return nil
}

// Search returns the topK chunks most similar to the query embedding, ranked
// by cosine similarity. The tenant filter lives inside this query: callers
// cannot reach another tenant's chunks through this boundary.
func (ix *Index) Search(ctx context.Context, tenantID int64, embedding []float32, topK int) ([]Match, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT content, source, 1 - (embedding <=> $2) AS score
		FROM knowledge_chunks
		WHERE tenant_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		tenantID, pgvector.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Content, &m.Source, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}
