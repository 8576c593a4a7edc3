// Package queue is the durable job queue. Jobs are published to a JetStream
// work-queue stream and consumed by the worker pool with at-least-once
// delivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName   = "JOBS"
	consumerName = "attend-workers"

	SubjectMessage  = "jobs.message"
	SubjectDocument = "jobs.document"

	// MaxDeliver is the initial delivery plus three retries.
	MaxDeliver = 4
	// RetryDelay is the fixed delay between redeliveries of a failed job.
	RetryDelay = 5 * time.Second

	// ackWait bounds how long a worker may hold a job before the server
	// redelivers it (crash recovery).
	ackWait = 2 * time.Minute
)

// InboundMessage is the payload of an inbound-message job.
type InboundMessage struct {
	JobID      uuid.UUID `json:"job_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// DocumentIngest is the payload of a document-ingestion job.
type DocumentIngest struct {
	JobID    uuid.UUID `json:"job_id"`
	TenantID int64     `json:"tenant_id"`
	Filename string    `json:"filename"`
	Content  string    `json:"content"`
}

type Queue struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

func Connect(ctx context.Context, url, token string, logger *slog.Logger) (*Queue, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"jobs.>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &Queue{conn: nc, js: js, logger: logger}, nil
}

// EnqueueMessage accepts an inbound-message job. It returns as soon as the
// stream has stored the job; workers pick it up independently.
func (q *Queue) EnqueueMessage(ctx context.Context, job InboundMessage) error {
	return q.publish(ctx, SubjectMessage, job)
}

// EnqueueDocument accepts a document-ingestion job.
func (q *Queue) EnqueueDocument(ctx context.Context, job DocumentIngest) error {
	return q.publish(ctx, SubjectDocument, job)
}

func (q *Queue) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Consumer returns the shared durable consumer the worker pool fetches from.
// All workers pull from the same consumer, so a job is handed to exactly one
// worker per delivery.
func (q *Queue) Consumer(ctx context.Context) (jetstream.Consumer, error) {
	cons, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:    consumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    ackWait,
		MaxDeliver: MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return cons, nil
}

func (q *Queue) Close() {
	q.conn.Close()
}
