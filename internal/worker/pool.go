package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/attendlabs/attend/internal/assemble"
	"github.com/attendlabs/attend/internal/knowledge"
	"github.com/attendlabs/attend/internal/openai"
	"github.com/attendlabs/attend/internal/queue"
	"github.com/attendlabs/attend/internal/store"
)

const (
	fetchWait  = 2 * time.Second
	jobTimeout = 90 * time.Second
)

// TenantStore is the slice of the persistence layer the pool needs.
type TenantStore interface {
	TenantByRoutingAddress(ctx context.Context, address string) (*store.Tenant, error)
	TenantByID(ctx context.Context, id int64) (*store.Tenant, error)
	Append(ctx context.Context, p store.AppendParams) error
}

// ContextAssembler builds the conversation context for a generation call.
type ContextAssembler interface {
	Assemble(ctx context.Context, tenantID int64, customer, inbound string, receivedAt time.Time) (assemble.Context, error)
}

// Generator produces a full assistant reply.
type Generator interface {
	Complete(ctx context.Context, system string, messages []openai.Message) (string, error)
}

// Embedder turns text into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer writes knowledge chunks into the vector index.
type Indexer interface {
	Upsert(ctx context.Context, tenantID int64, chunks []knowledge.Chunk) error
}

// Messenger delivers the reply back to the customer.
type Messenger interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Deps collects the collaborators of the worker pool.
type Deps struct {
	Store     TenantStore
	Assembler ContextAssembler
	Generator Generator
	Embedder  Embedder
	Index     Indexer
	Messenger Messenger
}

// Pool pulls jobs off the queue and runs them through the pipelines.
type Pool struct {
	consumer jetstream.Consumer
	deps     Deps
	workers  int
	locks    *keyLocks
	logger   *slog.Logger
}

func NewPool(consumer jetstream.Consumer, deps Deps, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		consumer: consumer,
		deps:     deps,
		workers:  workers,
		locks:    newKeyLocks(),
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, fetching and processing jobs on
// every worker goroutine.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", "workers", p.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.runWorker(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := p.consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for msg := range batch.Messages() {
			p.process(ctx, msg)
		}
		if err := batch.Error(); err != nil && ctx.Err() == nil {
			p.logger.Warn("fetch batch failed", "error", err)
		}
	}
}

// process runs one job and settles the message: ack on success, term on
// permanent failure or exhausted retries, delayed nak otherwise.
func (p *Pool) process(ctx context.Context, msg jetstream.Msg) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	err := p.handle(jobCtx, msg)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Warn("ack failed", "subject", msg.Subject(), "error", ackErr)
		}
		return
	}

	if IsPermanent(err) {
		p.logger.Error("job dropped: permanent failure",
			"subject", msg.Subject(), "payload", string(msg.Data()), "error", err)
		if termErr := msg.Term(); termErr != nil {
			p.logger.Warn("term failed", "error", termErr)
		}
		return
	}

	delivered := 1
	if meta, metaErr := msg.Metadata(); metaErr == nil {
		delivered = int(meta.NumDelivered)
	}
	if delivered >= queue.MaxDeliver {
		p.logger.Error("job dropped: retries exhausted",
			"subject", msg.Subject(), "payload", string(msg.Data()),
			"attempts", delivered, "error", err)
		if termErr := msg.Term(); termErr != nil {
			p.logger.Warn("term failed", "error", termErr)
		}
		return
	}

	p.logger.Warn("job failed, retrying",
		"subject", msg.Subject(), "attempt", delivered,
		"retry_in", queue.RetryDelay, "error", err)
	if nakErr := msg.NakWithDelay(queue.RetryDelay); nakErr != nil {
		p.logger.Warn("nak failed", "error", nakErr)
	}
}

func (p *Pool) handle(ctx context.Context, msg jetstream.Msg) error {
	switch msg.Subject() {
	case queue.SubjectMessage:
		var job queue.InboundMessage
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			return Permanent(fmt.Errorf("decode message job: %w", err))
		}
		return p.processMessage(ctx, job)
	case queue.SubjectDocument:
		var job queue.DocumentIngest
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			return Permanent(fmt.Errorf("decode document job: %w", err))
		}
		return p.processDocument(ctx, job)
	default:
		return Permanentf("unknown job subject %q", msg.Subject())
	}
}
