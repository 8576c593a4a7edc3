package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/attendlabs/attend/internal/openai"
	"github.com/attendlabs/attend/internal/prompt"
	"github.com/attendlabs/attend/internal/store"
)

// chatStream handles GET /api/v1/chat/stream. It runs the same context
// assembly and prompt composition as the queued pipeline but streams the
// reply over SSE and records nothing; the transcript belongs to the
// delivered channel only. Closing the connection cancels generation.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, err := strconv.ParseInt(q.Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		writeError(w, http.StatusBadRequest, "tenant_id must be a positive integer")
		return
	}
	customer := q.Get("customer")
	message := q.Get("message")
	if customer == "" || message == "" {
		writeError(w, http.StatusBadRequest, "customer and message are required")
		return
	}

	ctx := r.Context()
	tenant, err := s.tenants.TenantByID(ctx, tenantID)
	if errors.Is(err, store.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}
	if err != nil {
		s.logger.Error("failed to load tenant", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}

	asm, err := s.assembler.Assemble(ctx, tenant.ID, customer, message, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to assemble context", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to assemble context")
		return
	}

	system := prompt.System(tenant, asm.Knowledge)
	messages := make([]openai.Message, 0, len(asm.History)+1)
	for _, turn := range asm.History {
		messages = append(messages, openai.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, openai.Message{Role: "user", Content: message})

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for frag := range s.streamer.Stream(ctx, system, messages) {
		if frag.Err != nil {
			if ctx.Err() == nil {
				s.logger.Error("stream failed", "tenant_id", tenantID, "error", frag.Err)
				fmt.Fprint(w, "event: error\ndata: generation failed\n\n")
				flusher.Flush()
			}
			return
		}
		data, _ := json.Marshal(map[string]string{"text": frag.Text})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
