// Package artifact implements domain.ArtifactStore on a local directory and
// on a NATS JetStream object store bucket.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned by Open for unknown paths
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidPath is returned for paths escaping the store
var ErrInvalidPath = errors.New("invalid artifact path")

var _ domain.ArtifactStore = (*FilesystemStore)(nil)

// FilesystemStore keeps artifacts as files below a root directory
type FilesystemStore struct {
	root   string
	tracer trace.Tracer
	logger *slog.Logger
}

// NewFilesystemStore creates the root directory if needed
func NewFilesystemStore(root string, tracer trace.Tracer, logger *slog.Logger) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FilesystemStore{root: root, tracer: tracer, logger: logger}, nil
}

// Write stores data under namespace/<uuid>.<ext>. The file is written to a
// temporary name and renamed into place, so readers never see a partial file.
func (s *FilesystemStore) Write(ctx context.Context, namespace, ext string, data []byte) (string, error) {
	ctx, span := s.tracer.Start(ctx, "FilesystemStore.Write")
	defer span.End()

	name := generateName(namespace, ext)
	span.SetAttributes(
		attribute.String("artifact.path", name),
		attribute.Int("artifact.size", len(data)),
	)

	dir := filepath.Join(s.root, filepath.FromSlash(namespace))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create namespace")
		return "", fmt.Errorf("create namespace %q: %w", namespace, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create temp file")
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to write artifact")
		return "", fmt.Errorf("write artifact: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.root, filepath.FromSlash(name))); err != nil {
		_ = os.Remove(tmpName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to publish artifact")
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	s.logger.DebugContext(ctx, "Artifact stored",
		slog.String("path", name),
		slog.Int("size", len(data)),
	)

	span.SetStatus(codes.Ok, "Artifact stored")
	return name, nil
}

// Open returns a reader for a previously written artifact
func (s *FilesystemStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	_, span := s.tracer.Start(ctx, "FilesystemStore.Open")
	defer span.End()

	span.SetAttributes(attribute.String("artifact.path", name))

	clean, err := cleanPath(name)
	if err != nil {
		span.SetStatus(codes.Error, "Invalid path")
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			span.SetStatus(codes.Error, "Artifact not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to open artifact")
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	span.SetStatus(codes.Ok, "Artifact opened")
	return f, nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func generateName(namespace, ext string) string {
	name := uuid.NewString()
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return path.Join(namespace, name)
}

// cleanPath rejects absolute paths and any path that climbs out of the store
func cleanPath(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if strings.HasPrefix(path.Base(clean), ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return clean, nil
}
