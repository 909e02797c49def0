// Package ingest runs queued media jobs: it normalizes each payload into the
// artifact store and links the result to its product.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/app/cachekey"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Normalizer turns raw payloads into stored artifact paths
type Normalizer interface {
	NormalizeImage(ctx context.Context, payload domain.MediaPayload) (string, error)
	StoreVideo(ctx context.Context, payload domain.MediaPayload) (string, error)
}

// Job outcomes recorded on catalog.media.jobs
const (
	resultLinked   = "linked"
	resultRejected = "rejected"
	resultOrphaned = "orphaned"
	resultFailed   = "failed"
)

// Worker processes one PendingMedia job at a time; run several for
// concurrency. Image and video are handled independently.
type Worker struct {
	normalizer Normalizer
	repo       domain.ProductRepository
	cache      domain.Cache
	retry      retry.Config

	tracer   trace.Tracer
	logger   *slog.Logger
	jobs     metric.Int64Counter
	rejected metric.Int64Counter
}

// NewWorker creates a worker. retryCfg bounds the attempts made for storage
// and commit failures; its ShouldRetry is replaced per step.
func NewWorker(
	normalizer Normalizer,
	repo domain.ProductRepository,
	cache domain.Cache,
	retryCfg retry.Config,
	tracer trace.Tracer,
	meter metric.Meter,
	logger *slog.Logger,
) *Worker {
	jobs, _ := meter.Int64Counter(
		"catalog.media.jobs",
		metric.WithDescription("Media ingestion outcomes by medium and result"),
	)

	rejected, _ := meter.Int64Counter(
		"catalog.media.rejected",
		metric.WithDescription("Media payloads refused by the normalizer"),
	)

	return &Worker{
		normalizer: normalizer,
		repo:       repo,
		cache:      cache,
		retry:      retryCfg,
		tracer:     tracer,
		logger:     logger,
		jobs:       jobs,
		rejected:   rejected,
	}
}

// Handle processes the image first, then the video. A rejected or failed
// medium does not stop the other one. Rejections and orphaned artifacts are
// handled here; storage or commit failures that outlast the retries are
// returned for the consumer to log. Jobs are not redelivered.
func (w *Worker) Handle(ctx context.Context, job domain.PendingMedia) error {
	ctx, span := w.tracer.Start(ctx, "Worker.Handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("product.id", job.ProductID),
		attribute.Bool("job.image", job.Image != nil),
		attribute.Bool("job.video", job.Video != nil),
	)

	if job.Empty() {
		w.logger.WarnContext(ctx, "Skipping ingestion job without media",
			slog.String("job_id", job.JobID),
			slog.String("product_id", job.ProductID),
		)
		span.SetStatus(codes.Ok, "Nothing to ingest")
		return nil
	}

	var errs []error
	if job.Image != nil {
		errs = append(errs, w.ingest(ctx, job.ProductID, domain.MediaImage, *job.Image))
	}
	if job.Video != nil {
		errs = append(errs, w.ingest(ctx, job.ProductID, domain.MediaVideo, *job.Video))
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ingestion failed")
		return err
	}

	span.SetStatus(codes.Ok, "Ingestion completed")
	return nil
}

func (w *Worker) ingest(ctx context.Context, productID string, kind domain.MediaKind, payload domain.MediaPayload) error {
	ctx, span := w.tracer.Start(ctx, "Worker.ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("media.kind", string(kind)),
		attribute.String("media.extension", payload.NormalizedExtension()),
		attribute.Int("media.bytes", len(payload.Data)),
	)

	storeCfg := w.retry
	storeCfg.ShouldRetry = func(err error) bool { return !domain.IsMediaRejected(err) }
	storeCfg.OnRetry = w.logRetry(ctx, productID, kind, "store")

	path, err := retry.DoWithResult(ctx, storeCfg, func() (string, error) {
		return w.store(ctx, kind, payload)
	})

	var rejected *domain.MediaRejectedError
	switch {
	case errors.As(err, &rejected):
		w.logger.WarnContext(ctx, "Media rejected, product left unchanged",
			slog.String("product_id", productID),
			slog.String("kind", string(kind)),
			slog.String("reason", string(rejected.Reason)),
			slog.String("extension", rejected.Extension),
		)
		w.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("medium", string(kind)),
			attribute.String("reason", string(rejected.Reason)),
		))
		w.count(ctx, kind, resultRejected)
		span.SetStatus(codes.Ok, "Media rejected")
		return nil
	case err != nil:
		w.logger.ErrorContext(ctx, "Failed to store media",
			slog.String("product_id", productID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		w.count(ctx, kind, resultFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Storage failed")
		return fmt.Errorf("store %s for product %s: %w", kind, productID, err)
	}

	span.SetAttributes(attribute.String("media.path", path))

	commitCfg := w.retry
	commitCfg.ShouldRetry = func(err error) bool { return !errors.Is(err, domain.ErrProductNotFound) }
	commitCfg.OnRetry = w.logRetry(ctx, productID, kind, "link")

	_, err = retry.DoWithResult(ctx, commitCfg, func() (*domain.Product, error) {
		return w.repo.SetMediaPath(ctx, productID, kind, path)
	})
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		w.logger.WarnContext(ctx, "Product deleted before media commit, artifact orphaned",
			slog.String("product_id", productID),
			slog.String("path", path),
		)
		w.count(ctx, kind, resultOrphaned)
		span.SetStatus(codes.Ok, "Product gone")
		return nil
	case err != nil:
		w.logger.ErrorContext(ctx, "Failed to link media, artifact orphaned",
			slog.String("product_id", productID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		w.count(ctx, kind, resultFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return fmt.Errorf("link %s for product %s: %w", kind, productID, err)
	}

	if err := w.cache.Delete(ctx, cachekey.Record(productID)...); err != nil {
		w.logger.ErrorContext(ctx, "Cache invalidation failed, entries stay until their TTL",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.InfoContext(ctx, "Media linked",
		slog.String("product_id", productID),
		slog.String("kind", string(kind)),
		slog.String("path", path),
	)
	w.count(ctx, kind, resultLinked)
	span.SetStatus(codes.Ok, "Media linked")
	return nil
}

func (w *Worker) logRetry(ctx context.Context, productID string, kind domain.MediaKind, step string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		w.logger.WarnContext(ctx, "Media step failed, retrying",
			slog.String("product_id", productID),
			slog.String("kind", string(kind)),
			slog.String("step", step),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) store(ctx context.Context, kind domain.MediaKind, payload domain.MediaPayload) (string, error) {
	if kind == domain.MediaImage {
		return w.normalizer.NormalizeImage(ctx, payload)
	}
	return w.normalizer.StoreVideo(ctx, payload)
}

func (w *Worker) count(ctx context.Context, kind domain.MediaKind, result string) {
	w.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("medium", string(kind)),
		attribute.String("result", result),
	))
}
