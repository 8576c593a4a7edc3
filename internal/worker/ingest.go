package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/attendlabs/attend/internal/knowledge"
	"github.com/attendlabs/attend/internal/queue"
	"github.com/attendlabs/attend/internal/store"
)

// processDocument splits a document, embeds every chunk and upserts the
// result into the tenant's slice of the knowledge index. Re-running the
// same job overwrites the same chunk ids, so retries converge.
func (p *Pool) processDocument(ctx context.Context, job queue.DocumentIngest) error {
	if _, err := p.deps.Store.TenantByID(ctx, job.TenantID); err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return Permanent(fmt.Errorf("document for unknown tenant %d: %w", job.TenantID, err))
		}
		return fmt.Errorf("resolve tenant: %w", err)
	}

	parts := knowledge.SplitDocument(job.Content)
	if len(parts) == 0 {
		p.logger.Warn("document has no indexable content",
			"tenant_id", job.TenantID, "filename", job.Filename, "job_id", job.JobID)
		return nil
	}

	vectors, err := p.deps.Embedder.Embed(ctx, parts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	chunks := make([]knowledge.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = knowledge.Chunk{
			Source:    job.Filename,
			Seq:       i,
			Content:   part,
			Embedding: vectors[i],
		}
	}
	if err := p.deps.Index.Upsert(ctx, job.TenantID, chunks); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}

	p.logger.Info("document indexed",
		"tenant_id", job.TenantID, "filename", job.Filename, "chunks", len(chunks), "job_id", job.JobID)
	return nil
}
