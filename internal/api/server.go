package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/attendlabs/attend/internal/assemble"
	"github.com/attendlabs/attend/internal/openai"
	"github.com/attendlabs/attend/internal/queue"
	"github.com/attendlabs/attend/internal/store"
)

// Enqueuer hands accepted work to the job queue.
type Enqueuer interface {
	EnqueueMessage(ctx context.Context, job queue.InboundMessage) error
	EnqueueDocument(ctx context.Context, job queue.DocumentIngest) error
}

// TenantLoader resolves tenants for the streaming endpoint.
type TenantLoader interface {
	TenantByID(ctx context.Context, id int64) (*store.Tenant, error)
}

// ContextAssembler builds the conversation context for a generation call.
type ContextAssembler interface {
	Assemble(ctx context.Context, tenantID int64, customer, inbound string, receivedAt time.Time) (assemble.Context, error)
}

// Streamer produces an assistant reply incrementally.
type Streamer interface {
	Stream(ctx context.Context, system string, messages []openai.Message) <-chan openai.Fragment
}

type Server struct {
	router    *chi.Mux
	srv       *http.Server
	queue     Enqueuer
	tenants   TenantLoader
	assembler ContextAssembler
	streamer  Streamer
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewServer(port int, q Enqueuer, tenants TenantLoader, assembler ContextAssembler, streamer Streamer, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		srv:       &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router},
		queue:     q,
		tenants:   tenants,
		assembler: assembler,
		streamer:  streamer,
		validate:  validator.New(),
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Post("/webhook/whatsapp", s.webhook)
	router.Post("/api/v1/documents", s.ingestDocument)
	router.Get("/api/v1/chat/stream", s.chatStream)

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookPayload struct {
	From string `validate:"required"`
	To   string `validate:"required"`
	Body string `validate:"required"`
}

// webhook accepts an inbound WhatsApp message and queues it. The reply is
// produced asynchronously by the worker pool, so the provider gets an
// immediate 202.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form: %v", err))
		return
	}
	payload := webhookPayload{
		From: r.PostFormValue("From"),
		To:   r.PostFormValue("To"),
		Body: r.PostFormValue("Body"),
	}
	if err := s.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	job := queue.InboundMessage{
		JobID:      uuid.New(),
		From:       payload.From,
		To:         payload.To,
		Body:       payload.Body,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.queue.EnqueueMessage(r.Context(), job); err != nil {
		s.logger.Error("failed to enqueue message", "from", payload.From, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": job.JobID.String(),
	})
}

type documentPayload struct {
	TenantID int64  `json:"tenant_id" validate:"required,gt=0"`
	Filename string `json:"filename" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	var payload documentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	job := queue.DocumentIngest{
		JobID:    uuid.New(),
		TenantID: payload.TenantID,
		Filename: payload.Filename,
		Content:  payload.Content,
	}
	if err := s.queue.EnqueueDocument(r.Context(), job); err != nil {
		s.logger.Error("failed to enqueue document", "tenant_id", payload.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue document")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": job.JobID.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
