package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/domain"
)

// Runner feeds a consumer's jobs to a handler. Each job gets its own
// deadline and a panic in one job does not take the consumer down.
type Runner struct {
	consumer domain.JobConsumer
	handle   domain.JobHandler
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner binds handle to consumer; timeout <= 0 disables the per-job
// deadline.
func NewRunner(consumer domain.JobConsumer, handle domain.JobHandler, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{consumer: consumer, handle: handle, timeout: timeout, logger: logger}
}

// Run blocks until ctx is done or the consumer stops
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Ingestion runner started", slog.Duration("process_timeout", r.timeout))
	defer r.logger.Info("Ingestion runner stopped")

	return r.consumer.Consume(ctx, r.process)
}

func (r *Runner) process(ctx context.Context, job domain.PendingMedia) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "Ingestion job panicked",
				slog.String("job_id", job.JobID),
				slog.String("product_id", job.ProductID),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("ingestion job %s panicked: %v", job.JobID, p)
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	return r.handle(ctx, job)
}
