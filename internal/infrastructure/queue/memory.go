package queue

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/telemetry"
	"golang.org/x/sync/errgroup"
)

var (
	_ domain.MediaQueue  = (*MemoryQueue)(nil)
	_ domain.JobConsumer = (*MemoryQueue)(nil)
)

// MemoryQueue is a buffered in-process queue. Jobs are lost on restart, so
// it serves single-process deployments and tests.
type MemoryQueue struct {
	jobs        chan domain.PendingMedia
	concurrency int
	logger      *slog.Logger
	closed      atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
}

// NewMemoryQueue creates a queue holding up to buffer jobs, consumed by
// concurrency goroutines.
func NewMemoryQueue(buffer, concurrency int, logger *slog.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MemoryQueue{
		jobs:        make(chan domain.PendingMedia, buffer),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enqueue blocks while the buffer is full, until ctx is done
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.PendingMedia) (string, error) {
	if q.closed.Load() {
		return "", domain.ErrQueueClosed
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return job.JobID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Consume hands jobs to handle from several goroutines until ctx is done
func (q *MemoryQueue) Consume(ctx context.Context, handle domain.JobHandler) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job := <-q.jobs:
					jobCtx := telemetry.WithLogAttrs(gctx, jobAttrs(job)...)
					if err := handle(jobCtx, job); err != nil {
						q.logger.ErrorContext(jobCtx, "Ingestion job failed",
							slog.String("error", err.Error()),
						)
					}
					q.processed.Add(1)
				}
			}
		})
	}
	return g.Wait()
}

// Close stops intake. Jobs still buffered when Consume returns are dropped.
func (q *MemoryQueue) Close() {
	q.closed.Store(true)
}

// Len returns the number of buffered jobs
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Stats returns enqueued and processed counters
func (q *MemoryQueue) Stats() (enqueued, processed uint64) {
	return q.enqueued.Load(), q.processed.Load()
}
