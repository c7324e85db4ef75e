// Package queue carries ingestion jobs over Redis with asynq, for
// deployments that run ingestion in a separate worker process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/docchat/internal/ingest"
)

const (
	// IngestDocumentTask is scheduled each time an upload is accepted.
	IngestDocumentTask = "document:ingest"
)

// NewIngestTask serializes job into an asynq task.
func NewIngestTask(job ingest.Job) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(IngestDocumentTask, data), nil
}

// EnqueueIngest enqueues an ingestion job. Retries cover the worker crashing
// mid-job; ordinary ingestion failures are terminal (see worker).
func EnqueueIngest(ctx context.Context, client *asynq.Client, job ingest.Job) error {
	task, err := NewIngestTask(job)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue ingest task: %w", err)
	}
	return nil
}

var _ ingest.Dispatcher = (*Dispatcher)(nil)

// Dispatcher adapts an asynq client to ingest.Dispatcher.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher wraps client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues job.
func (d *Dispatcher) Dispatch(ctx context.Context, job ingest.Job) error {
	return EnqueueIngest(ctx, d.client, job)
}
