// Package worker plugs the ingestion pipeline into the asynq server loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/docchat/internal/ingest"
	"github.com/dharsanguruparan/docchat/internal/queue"
)

// Runner executes one ingestion job.
type Runner interface {
	Run(ctx context.Context, job ingest.Job) error
}

// Processor handles ingestion tasks.
type Processor struct {
	runner Runner
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner) *Processor {
	return &Processor{runner: runner}
}

// Handler registers the ingest task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.IngestDocumentTask, p.handleIngest)
	return mux
}

func (p *Processor) handleIngest(ctx context.Context, task *asynq.Task) error {
	var job ingest.Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.runner.Run(ctx, job); err != nil {
		// Run has already marked the document failed; a failed document
		// must stay failed.
		log.Printf("ingest failed for %s: %v", job.DocumentID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
