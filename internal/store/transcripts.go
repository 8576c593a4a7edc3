package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// Message is one immutable transcript entry.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// AppendParams identifies a conversation by its (tenant, customer) key and
// carries one message to write. JobID ties the write to the processing job
// that produced it so redeliveries dedupe; uuid.Nil skips job-level dedup.
type AppendParams struct {
	TenantID int64
	Customer string
	Role     Role
	Content  string
	At       time.Time
	JobID    uuid.UUID
}

// Append writes a message, creating the conversation on first use of the
// (tenant, customer) key. The insert is idempotent: redelivered writes that
// collide on either dedup index become no-ops.
func (s *Store) Append(ctx context.Context, p AppendParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, tenant_id, customer_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, customer_address) DO NOTHING`,
		uuid.New(), p.TenantID, p.Customer,
	)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	var conversationID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM conversations WHERE tenant_id = $1 AND customer_address = $2`,
		p.TenantID, p.Customer,
	).Scan(&conversationID)
	if err != nil {
		return fmt.Errorf("load conversation id: %w", err)
	}

	var jobID *uuid.UUID
	if p.JobID != uuid.Nil {
		jobID = &p.JobID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at, source_job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		uuid.New(), conversationID, string(p.Role), p.Content, p.At.UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns up to limit messages of the (tenant, customer) conversation
// written strictly before the given instant, oldest first. A conversation that
// does not exist yet yields an empty slice.
func (s *Store) History(ctx context.Context, tenantID int64, customer string, limit int, before time.Time) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.role, m.content, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.tenant_id = $1 AND c.customer_address = $2 AND m.created_at < $3
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $4`,
		tenantID, customer, before.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Reverse into chronological order.
	msgs := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		msgs[len(newestFirst)-1-i] = m
	}
	return msgs, nil
}
