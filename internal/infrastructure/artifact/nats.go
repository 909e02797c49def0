package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ domain.ArtifactStore = (*ObjectStore)(nil)

// ObjectStore keeps artifacts in a JetStream object store bucket. Object
// names are the artifact paths. A put is only visible once all chunks are
// stored, so a failed write leaves nothing behind under the name.
type ObjectStore struct {
	conn   *nats.Conn
	store  jetstream.ObjectStore
	tracer trace.Tracer
	logger *slog.Logger
}

// NewObjectStore connects to NATS and opens or creates bucket
func NewObjectStore(ctx context.Context, url, bucket string, tracer trace.Tracer, logger *slog.Logger) (*ObjectStore, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Product media artifacts",
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create object store bucket: %w", err)
		}
	}

	logger.Info("Artifact object store ready", slog.String("bucket", bucket))

	return &ObjectStore{conn: conn, store: store, tracer: tracer, logger: logger}, nil
}

// Write puts data under namespace/<uuid>.<ext>
func (s *ObjectStore) Write(ctx context.Context, namespace, ext string, data []byte) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ObjectStore.Write")
	defer span.End()

	name := generateName(namespace, ext)
	span.SetAttributes(
		attribute.String("artifact.path", name),
		attribute.Int("artifact.size", len(data)),
	)

	meta := jetstream.ObjectMeta{
		Name:    name,
		Headers: nats.Header{"Content-Type": []string{ContentType(name)}},
	}
	if _, err := s.store.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to store object")
		return "", fmt.Errorf("failed to store object: %w", err)
	}

	s.logger.DebugContext(ctx, "Artifact stored",
		slog.String("path", name),
		slog.Int("size", len(data)),
	)

	span.SetStatus(codes.Ok, "Artifact stored")
	return name, nil
}

// Open streams a stored object
func (s *ObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	ctx, span := s.tracer.Start(ctx, "ObjectStore.Open")
	defer span.End()

	span.SetAttributes(attribute.String("artifact.path", name))

	clean, err := cleanPath(name)
	if err != nil {
		span.SetStatus(codes.Error, "Invalid path")
		return nil, err
	}

	result, err := s.store.Get(ctx, clean)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			span.SetStatus(codes.Error, "Artifact not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get object")
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	span.SetStatus(codes.Ok, "Artifact opened")
	return result, nil
}

// Close closes the NATS connection
func (s *ObjectStore) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// ContentType guesses a MIME type from the artifact extension
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
