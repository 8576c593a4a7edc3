package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attendlabs/attend/internal/openai"
	"github.com/attendlabs/attend/internal/prompt"
	"github.com/attendlabs/attend/internal/queue"
	"github.com/attendlabs/attend/internal/store"
)

// fallbackReply is sent when generation fails so the customer is never
// left without an answer.
const fallbackReply = "I'm sorry, I'm having trouble responding right now. Please try again in a few minutes."

func conversationKey(tenantID int64, customer string) string {
	return fmt.Sprintf("%d:%s", tenantID, customer)
}

// processMessage runs an inbound customer message through the full
// pipeline: resolve tenant, assemble context, generate a reply, record
// both turns, then dispatch. Dispatch comes last so a retried job that
// already reached the transcript cannot send twice; the appends are
// idempotent under the job id, so replays before dispatch are safe.
func (p *Pool) processMessage(ctx context.Context, job queue.InboundMessage) error {
	tenant, err := p.deps.Store.TenantByRoutingAddress(ctx, job.To)
	if errors.Is(err, store.ErrTenantNotFound) {
		return Permanent(fmt.Errorf("no tenant routes address %q: %w", job.To, err))
	}
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}

	unlock := p.locks.Lock(conversationKey(tenant.ID, job.From))
	defer unlock()

	asm, err := p.deps.Assembler.Assemble(ctx, tenant.ID, job.From, job.Body, job.ReceivedAt)
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	system := prompt.System(tenant, asm.Knowledge)
	messages := make([]openai.Message, 0, len(asm.History)+1)
	for _, turn := range asm.History {
		messages = append(messages, openai.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, openai.Message{Role: "user", Content: job.Body})

	reply, err := p.deps.Generator.Complete(ctx, system, messages)
	if err != nil {
		p.logger.Error("generation failed, sending fallback reply",
			"tenant_id", tenant.ID, "customer", job.From, "job_id", job.JobID, "error", err)
		reply = fallbackReply
	}

	if err := p.deps.Store.Append(ctx, store.AppendParams{
		TenantID: tenant.ID,
		Customer: job.From,
		Role:     store.RoleCustomer,
		Content:  job.Body,
		At:       job.ReceivedAt,
		JobID:    job.JobID,
	}); err != nil {
		return fmt.Errorf("append customer message: %w", err)
	}

	// The assistant turn must sort after the customer turn even if the
	// worker clock lags the gateway clock.
	repliedAt := time.Now().UTC()
	if !repliedAt.After(job.ReceivedAt) {
		repliedAt = job.ReceivedAt.Add(time.Millisecond)
	}
	if err := p.deps.Store.Append(ctx, store.AppendParams{
		TenantID: tenant.ID,
		Customer: job.From,
		Role:     store.RoleAssistant,
		Content:  reply,
		At:       repliedAt,
		JobID:    job.JobID,
	}); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	sid, err := p.deps.Messenger.Send(ctx, job.From, reply)
	if err != nil {
		return fmt.Errorf("dispatch reply: %w", err)
	}

	p.logger.Info("message processed",
		"tenant_id", tenant.ID, "customer", job.From, "job_id", job.JobID, "message_sid", sid)
	return nil
}
