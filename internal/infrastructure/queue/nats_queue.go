package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"deltadrift/internal/bootstrap/config"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/errs"
	"deltadrift/internal/ports"
)

const (
	fetchBatchSize = 8
	fetchWait      = 5 * time.Second
)

// NATSQueue is the durable analysis job queue backed by a JetStream
// work-queue stream. The connection is established on first use so commands
// that never touch the queue do not need a running server.
type NATSQueue struct {
	cfg config.QueueConfig

	mu   sync.Mutex
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewNATSQueue(cfg config.QueueConfig) *NATSQueue {
	return &NATSQueue{cfg: cfg}
}

func (q *NATSQueue) jetStream(ctx context.Context) (nats.JetStreamContext, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.js != nil {
		return q.js, nil
	}

	conn, err := nats.Connect(q.cfg.URL,
		nats.Name("deltadrift"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %s", q.cfg.URL)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(err, "open jetstream context")
	}

	if err := q.ensureStream(ctx, js); err != nil {
		conn.Close()
		return nil, err
	}

	q.conn = conn
	q.js = js
	return js, nil
}

// ensureStream creates the work-queue stream on first contact. Retention is
// WorkQueue so a message is removed once one worker acks it.
func (q *NATSQueue) ensureStream(ctx context.Context, js nats.JetStreamContext) error {
	_, err := js.StreamInfo(q.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errs.Wrapf(err, "inspect stream %s", q.cfg.Stream)
	}

	subject := q.cfg.Subject
	wildcard := subject
	if idx := strings.LastIndex(subject, "."); idx > 0 {
		wildcard = subject[:idx] + ".>"
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{wildcard},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	}); err != nil {
		return errs.Wrapf(err, "create stream %s", q.cfg.Stream)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "queue")),
		"jetstream stream created",
		slog.String("stream", q.cfg.Stream),
		slog.String("subjects", wildcard),
	)
	return nil
}

func (q *NATSQueue) Enqueue(ctx context.Context, driftEventID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(driftEventID) == "" {
		return errors.New("drift event id is required")
	}

	js, err := q.jetStream(ctx)
	if err != nil {
		return err
	}

	if _, err := js.Publish(q.cfg.Subject, []byte(driftEventID), nats.Context(ctx)); err != nil {
		return errs.Wrapf(err, "publish job %s", driftEventID)
	}
	return nil
}

// Subscribe opens the shared durable pull consumer. Workers calling Fetch on
// the returned source split the stream between them.
func (q *NATSQueue) Subscribe(ctx context.Context) (ports.JobSource, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	js, err := q.jetStream(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := js.PullSubscribe(q.cfg.Subject, q.cfg.Durable, nats.BindStream(q.cfg.Stream))
	if err != nil {
		return nil, errs.Wrapf(err, "open pull consumer %s", q.cfg.Durable)
	}
	return &jobSource{sub: sub}, nil
}

func (q *NATSQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil {
		q.conn.Close()
		q.conn = nil
		q.js = nil
	}
}

type jobSource struct {
	sub *nats.Subscription
}

func (s *jobSource) Fetch(ctx context.Context) ([]ports.Job, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Bounded wait so callers can observe cancellation between batches.
	fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
	defer cancel()

	msgs, err := s.sub.Fetch(fetchBatchSize, nats.Context(fetchCtx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, errs.Wrap(err, "fetch jobs")
	}

	jobs := make([]ports.Job, 0, len(msgs))
	for _, msg := range msgs {
		jobs = append(jobs, &natsJob{msg: msg})
	}
	return jobs, nil
}

type natsJob struct {
	msg *nats.Msg
}

func (j *natsJob) DriftEventID() string {
	return string(j.msg.Data)
}

func (j *natsJob) Ack(_ context.Context) error {
	if err := j.msg.Ack(); err != nil {
		return errs.Wrap(err, "ack job")
	}
	return nil
}

func (j *natsJob) Retry(_ context.Context) error {
	if err := j.msg.Nak(); err != nil {
		return errs.Wrap(err, "nak job")
	}
	return nil
}
