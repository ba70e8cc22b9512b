package ports

import "context"

// JobQueue accepts analysis jobs keyed by drift event id. Delivery is
// durable and at-least-once; handlers must tolerate duplicates.
type JobQueue interface {
	Enqueue(ctx context.Context, driftEventID string) error
}

// Job is one delivered analysis job. Ack removes it from the queue; Retry
// hands it back for redelivery under the queue's retry policy.
type Job interface {
	DriftEventID() string
	Ack(ctx context.Context) error
	Retry(ctx context.Context) error
}

// JobSource is a worker's pull subscription. Fetch blocks up to an
// implementation-defined interval and may return an empty batch.
type JobSource interface {
	Fetch(ctx context.Context) ([]Job, error)
}
