package assemble

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/attendlabs/attend/internal/knowledge"
	"github.com/attendlabs/attend/internal/store"
)

type fakeHistory struct {
	msgs      []store.Message
	err       error
	gotLimit  int
	gotBefore time.Time
	gotTenant int64
}

func (f *fakeHistory) History(_ context.Context, tenantID int64, _ string, limit int, before time.Time) ([]store.Message, error) {
	f.gotTenant = tenantID
	f.gotLimit = limit
	f.gotBefore = before
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.msgs) {
		return f.msgs[len(f.msgs)-limit:], nil
	}
	return f.msgs, nil
}

type fakeIndex struct {
	matches   []knowledge.Match
	err       error
	gotTenant int64
	gotTopK   int
}

func (f *fakeIndex) Search(_ context.Context, tenantID int64, _ []float32, topK int) ([]knowledge.Match, error) {
	f.gotTenant = tenantID
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.matches) {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestAssemble_HistoryWindowAndOrder(t *testing.T) {
	var msgs []store.Message
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		msgs = append(msgs, store.Message{
			Role:      store.RoleCustomer,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	hist := &fakeHistory{msgs: msgs}
	a := New(hist, &fakeIndex{}, &fakeEmbedder{}, nil)

	receivedAt := time.Now()
	got, err := a.Assemble(context.Background(), 7, "whatsapp:+1555", "hello", receivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hist.gotTenant != 7 {
		t.Errorf("expected tenant 7 passed to history, got %d", hist.gotTenant)
	}
	if hist.gotLimit != 10 {
		t.Errorf("expected history limit 10, got %d", hist.gotLimit)
	}
	if !hist.gotBefore.Equal(receivedAt) {
		t.Errorf("expected before bound %v, got %v", receivedAt, hist.gotBefore)
	}
	if len(got.History) != 10 {
		t.Fatalf("expected 10 history turns, got %d", len(got.History))
	}
	if got.History[0].Content != "msg 2" || got.History[9].Content != "msg 11" {
		t.Errorf("history window wrong: first=%q last=%q", got.History[0].Content, got.History[9].Content)
	}
	if got.History[0].Role != "user" {
		t.Errorf("expected customer role mapped to user, got %q", got.History[0].Role)
	}
}

func TestAssemble_KnowledgeJoinedAndCapped(t *testing.T) {
	idx := &fakeIndex{matches: []knowledge.Match{
		{Content: "chunk one", Score: 0.9},
		{Content: "chunk two", Score: 0.8},
		{Content: "chunk three", Score: 0.7},
		{Content: "chunk four", Score: 0.6},
	}}
	a := New(&fakeHistory{}, idx, &fakeEmbedder{}, nil)

	got, err := a.Assemble(context.Background(), 1, "c", "question", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idx.gotTopK != 3 {
		t.Errorf("expected top_k 3, got %d", idx.gotTopK)
	}
	if got.Knowledge != "chunk one\nchunk two\nchunk three" {
		t.Errorf("unexpected knowledge context %q", got.Knowledge)
	}
}

func TestAssemble_NoChunksIsEmptyNotError(t *testing.T) {
	a := New(&fakeHistory{}, &fakeIndex{}, &fakeEmbedder{}, nil)

	got, err := a.Assemble(context.Background(), 1, "c", "question", time.Now())
	if err != nil {
		t.Fatalf("expected no error for empty index, got %v", err)
	}
	if got.Knowledge != "" {
		t.Errorf("expected empty knowledge context, got %q", got.Knowledge)
	}
}

func TestAssemble_RetrievalFailureDegrades(t *testing.T) {
	tests := []struct {
		name     string
		embedder *fakeEmbedder
		index    *fakeIndex
	}{
		{"embed fails", &fakeEmbedder{err: errors.New("embed down")}, &fakeIndex{}},
		{"search fails", &fakeEmbedder{}, &fakeIndex{err: errors.New("index down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(&fakeHistory{}, tt.index, tt.embedder, nil)

			got, err := a.Assemble(context.Background(), 1, "c", "question", time.Now())
			if err != nil {
				t.Fatalf("retrieval failure must not fail assembly: %v", err)
			}
			if got.Knowledge != "" {
				t.Errorf("expected empty knowledge context, got %q", got.Knowledge)
			}
		})
	}
}

func TestAssemble_HistoryFailurePropagates(t *testing.T) {
	a := New(&fakeHistory{err: errors.New("db down")}, &fakeIndex{}, &fakeEmbedder{}, nil)

	if _, err := a.Assemble(context.Background(), 1, "c", "q", time.Now()); err == nil {
		t.Fatal("expected transcript failure to propagate")
	}
}

func TestAssemble_IndexScopedToTenant(t *testing.T) {
	idx := &fakeIndex{}
	a := New(&fakeHistory{}, idx, &fakeEmbedder{}, nil)

	if _, err := a.Assemble(context.Background(), 42, "c", "q", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.gotTenant != 42 {
		t.Errorf("expected search scoped to tenant 42, got %d", idx.gotTenant)
	}
}
