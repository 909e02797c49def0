package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/telemetry"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	_ domain.MediaQueue  = (*KafkaProducer)(nil)
	_ domain.JobConsumer = (*KafkaConsumer)(nil)
)

// KafkaConfig addresses the ingestion topic
type KafkaConfig struct {
	SeedBrokers       []string
	Topic             string
	ConsumerGroup     string
	Partitions        int32
	ReplicationFactor int16
	// MaxMessageBytes bounds one job; jobs carry raw media so this must
	// exceed the largest accepted upload.
	MaxMessageBytes int32
	Concurrency     int
}

// EnsureTopic creates the ingestion topic when it does not exist yet
func EnsureTopic(ctx context.Context, cfg KafkaConfig, logger *slog.Logger) error {
	adm, err := kadm.NewOptClient(kgo.SeedBrokers(cfg.SeedBrokers...))
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer adm.Close()

	maxBytes := strconv.Itoa(int(cfg.MaxMessageBytes))
	configs := map[string]*string{"max.message.bytes": &maxBytes}

	responses, err := adm.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, configs, cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", cfg.Topic, err)
	}

	var errs []error
	for _, res := range responses.Sorted() {
		switch {
		case res.Err == nil:
			logger.InfoContext(ctx, "Kafka topic created", slog.String("topic", res.Topic))
		case errors.Is(res.Err, kerr.TopicAlreadyExists):
			logger.DebugContext(ctx, "Kafka topic already exists", slog.String("topic", res.Topic))
		default:
			errs = append(errs, fmt.Errorf("topic %q: %w", res.Topic, res.Err))
		}
	}
	return errors.Join(errs...)
}

// KafkaProducer enqueues jobs keyed by product id, so all jobs of one
// product land on the same partition in order.
type KafkaProducer struct {
	cl     *kgo.Client
	topic  string
	tracer trace.Tracer
	logger *slog.Logger
}

// NewKafkaProducer creates a producer client for the ingestion topic
func NewKafkaProducer(cfg KafkaConfig, tracer trace.Tracer, logger *slog.Logger) (*KafkaProducer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.SeedBrokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchMaxBytes(cfg.MaxMessageBytes),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create producer client: %w", err)
	}
	return &KafkaProducer{cl: cl, topic: cfg.Topic, tracer: tracer, logger: logger}, nil
}

// Enqueue produces the job synchronously; the returned ticket is
// topic/partition/offset of the stored record.
func (p *KafkaProducer) Enqueue(ctx context.Context, job domain.PendingMedia) (string, error) {
	ctx, span := p.tracer.Start(ctx, "KafkaProducer.Enqueue")
	defer span.End()

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("product.id", job.ProductID),
	)

	value, err := EncodeJob(job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Encode failed")
		return "", err
	}

	rec := &kgo.Record{Topic: p.topic, Key: []byte(job.ProductID), Value: value}
	produced, err := p.cl.ProduceSync(ctx, rec).First()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Produce failed")
		return "", fmt.Errorf("produce job: %w", err)
	}

	ticket := fmt.Sprintf("%s/%d/%d", produced.Topic, produced.Partition, produced.Offset)
	span.SetAttributes(attribute.String("job.ticket", ticket))
	span.SetStatus(codes.Ok, "Job enqueued")
	return ticket, nil
}

// Close flushes nothing; ProduceSync already waited for every record
func (p *KafkaProducer) Close() {
	p.logger.Info("Closing Kafka producer")
	p.cl.Close()
}

// KafkaConsumer reads jobs in a consumer group. Offsets are committed only
// after every record of a polled batch was handled, which gives
// at-least-once delivery.
type KafkaConsumer struct {
	cl          *kgo.Client
	concurrency int
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewKafkaConsumer joins cfg.ConsumerGroup on the ingestion topic
func NewKafkaConsumer(cfg KafkaConfig, tracer trace.Tracer, logger *slog.Logger) (*KafkaConsumer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.SeedBrokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxBytes(cfg.MaxMessageBytes*4),
		kgo.FetchMaxPartitionBytes(cfg.MaxMessageBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer client: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &KafkaConsumer{cl: cl, concurrency: concurrency, tracer: tracer, logger: logger}, nil
}

// Consume polls until ctx is done or the client is closed. Offsets of a
// handled batch are committed even when some of its jobs failed; only a
// batch cut short by cancellation is redelivered.
func (c *KafkaConsumer) Consume(ctx context.Context, handle domain.JobHandler) error {
	c.logger.InfoContext(ctx, "Kafka consumer running", slog.Int("concurrency", c.concurrency))

	for {
		fetches := c.cl.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "Fetch failed",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.String("error", err.Error()),
			)
		})

		if fetches.Empty() {
			continue
		}

		c.handleBatch(ctx, fetches, handle)

		// A cancelled batch stays uncommitted and is redelivered.
		if ctx.Err() != nil {
			return nil
		}
		if err := c.cl.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.ErrorContext(ctx, "Commit offsets failed", slog.String("error", err.Error()))
		}
	}
}

// handleBatch runs each product's jobs in order; different products run
// concurrently.
func (c *KafkaConsumer) handleBatch(ctx context.Context, fetches kgo.Fetches, handle domain.JobHandler) {
	var order []string
	byProduct := make(map[string][]*kgo.Record)
	fetches.EachRecord(func(r *kgo.Record) {
		key := string(r.Key)
		if _, ok := byProduct[key]; !ok {
			order = append(order, key)
		}
		byProduct[key] = append(byProduct[key], r)
	})

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, key := range order {
		records := byProduct[key]
		g.Go(func() error {
			for _, r := range records {
				c.handleRecord(ctx, r, handle)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *KafkaConsumer) handleRecord(ctx context.Context, r *kgo.Record, handle domain.JobHandler) {
	ctx, span := c.tracer.Start(ctx, "KafkaConsumer.handleRecord")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination", r.Topic),
		attribute.Int("messaging.partition", int(r.Partition)),
		attribute.Int64("messaging.offset", r.Offset),
	)

	ctx = telemetry.WithLogAttrs(ctx,
		slog.String("topic", r.Topic),
		slog.Int("partition", int(r.Partition)),
		slog.Int64("offset", r.Offset),
	)

	job, err := DecodeJob(r.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Undecodable job")
		c.logger.ErrorContext(ctx, "Dropping undecodable job",
			slog.String("error", err.Error()),
		)
		return
	}

	ctx = telemetry.WithLogAttrs(ctx, jobAttrs(job)...)

	if err := handle(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Job failed")
		c.logger.ErrorContext(ctx, "Ingestion job failed",
			slog.String("error", err.Error()),
		)
		return
	}
	span.SetStatus(codes.Ok, "Job handled")
}

// Close leaves the group and closes the client
func (c *KafkaConsumer) Close() {
	c.logger.Info("Closing Kafka consumer")
	c.cl.Close()
}
