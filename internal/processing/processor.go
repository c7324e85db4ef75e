// Package processing runs ingestion jobs on an in-process worker pool.
// Goroutines + a buffered channel keep uploads responsive while documents
// are embedded in the background.
package processing

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dharsanguruparan/docchat/internal/ingest"
)

// ErrQueueFull is returned by Dispatch when every buffered slot is taken.
var ErrQueueFull = errors.New("processing queue full")

// ErrStopped is returned by Dispatch after the pool's context is done.
var ErrStopped = errors.New("processing pool stopped")

// ErrShutdown is the failure recorded on jobs still queued when the pool
// stops.
var ErrShutdown = errors.New("shutdown before ingestion")

// Runner executes a single job. *ingest.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, job ingest.Job) error
	// Abandon records that job will not run, so its document does not stay
	// ingesting forever.
	Abandon(ctx context.Context, job ingest.Job, cause error) error
}

var _ ingest.Dispatcher = (*Processor)(nil)

// Processor consumes jobs with a fixed number of workers.
type Processor struct {
	queue   chan ingest.Job
	workers int
	wg      sync.WaitGroup
	once    sync.Once
	// mu orders Dispatch against shutdown: once closed is set under the
	// write lock, nothing new enters the queue and draining it is final.
	mu     sync.RWMutex
	closed bool
}

// New builds a Processor with queue capacity tied to worker count.
func New(workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		// A buffered channel holds pending jobs without blocking producers.
		queue:   make(chan ingest.Job, workers*4),
		workers: workers,
	}
}

// Start launches the workers. Jobs run on ctx, not on the context of the
// request that dispatched them, so they outlive the upload request. When ctx
// is done, jobs still queued are abandoned with ErrShutdown. Start only has
// effect once.
func (p *Processor) Start(ctx context.Context, runner Runner) {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, runner)
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			<-ctx.Done()
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			p.drain(ctx, runner)
		}()
	})
}

// Wait blocks until every worker has exited and the queue is drained.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Dispatch queues a job. It never blocks: a full queue is reported to the
// caller, which marks the document failed.
func (p *Processor) Dispatch(_ context.Context, job ingest.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		log.Printf("processor queue full, rejecting job for %s", job.DocumentID)
		return ErrQueueFull
	}
}

func (p *Processor) worker(ctx context.Context, runner Runner) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			// select picks at random when both are ready, so a job taken
			// after shutdown began is abandoned rather than run.
			if ctx.Err() != nil {
				p.abandon(ctx, runner, job)
				continue
			}
			// Run records failures on the document itself; the error is
			// only logged here.
			if err := runner.Run(ctx, job); err != nil {
				log.Printf("processor: job for %s: %v", job.DocumentID, err)
			}
		}
	}
}

func (p *Processor) drain(ctx context.Context, runner Runner) {
	for {
		select {
		case job := <-p.queue:
			p.abandon(ctx, runner, job)
		default:
			return
		}
	}
}

func (p *Processor) abandon(ctx context.Context, runner Runner, job ingest.Job) {
	if err := runner.Abandon(context.WithoutCancel(ctx), job, ErrShutdown); err != nil {
		log.Printf("processor: abandon job for %s: %v", job.DocumentID, err)
	}
}
