// Package assemble builds the bounded generation context for one inbound
// message: the recent conversation window plus retrieved tenant knowledge.
package assemble

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/attendlabs/attend/internal/knowledge"
	"github.com/attendlabs/attend/internal/store"
)

const (
	// historyLimit bounds the conversation window sent to the model.
	historyLimit = 10
	// defaultTopK bounds retrieved knowledge chunks.
	defaultTopK = 3

	retrievalTimeout = 10 * time.Second
)

// HistoryLoader is the transcript-store surface the assembler consumes.
type HistoryLoader interface {
	History(ctx context.Context, tenantID int64, customer string, limit int, before time.Time) ([]store.Message, error)
}

// Searcher is the knowledge-index surface the assembler consumes.
type Searcher interface {
	Search(ctx context.Context, tenantID int64, embedding []float32, topK int) ([]knowledge.Match, error)
}

// Embedder turns query text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Turn is one prior exchange in generation-service roles.
type Turn struct {
	Role    string
	Content string
}

// Context is the assembled input for prompt composition.
type Context struct {
	History   []Turn
	Knowledge string
}

type Assembler struct {
	history  HistoryLoader
	index    Searcher
	embedder Embedder
	topK     int
	logger   *slog.Logger
}

func New(history HistoryLoader, index Searcher, embedder Embedder, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		history:  history,
		index:    index,
		embedder: embedder,
		topK:     defaultTopK,
		logger:   logger,
	}
}

// Assemble returns the last messages of the (tenant, customer) conversation
// written before receivedAt, oldest first, and the knowledge context for the
// inbound text. Retrieval failures degrade to an empty knowledge context with
// a logged warning; only a transcript failure is an error.
func (a *Assembler) Assemble(ctx context.Context, tenantID int64, customer, inbound string, receivedAt time.Time) (Context, error) {
	msgs, err := a.history.History(ctx, tenantID, customer, historyLimit, receivedAt)
	if err != nil {
		return Context{}, err
	}

	history := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, Turn{Role: generationRole(m.Role), Content: m.Content})
	}

	return Context{
		History:   history,
		Knowledge: a.retrieve(ctx, tenantID, inbound),
	}, nil
}

func (a *Assembler) retrieve(ctx context.Context, tenantID int64, inbound string) string {
	retrievalCtx, cancel := context.WithTimeout(ctx, retrievalTimeout)
	defer cancel()

	vectors, err := a.embedder.Embed(retrievalCtx, []string{inbound})
	if err != nil || len(vectors) == 0 {
		a.logger.Warn("query embedding failed, continuing without knowledge context",
			"tenant_id", tenantID, "error", err)
		return ""
	}

	matches, err := a.index.Search(retrievalCtx, tenantID, vectors[0], a.topK)
	if err != nil {
		a.logger.Warn("knowledge search failed, continuing without knowledge context",
			"tenant_id", tenantID, "error", err)
		return ""
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Content)
	}
	return strings.Join(texts, "\n")
}

func generationRole(r store.Role) string {
	if r == store.RoleAssistant {
		return "assistant"
	}
	return "user"
}
