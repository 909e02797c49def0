// Package media turns raw uploads into stored artifacts: images are decoded,
// scaled to a fixed frame and re-encoded as JPEG; videos are stored verbatim.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// Target frame and encoding of every stored image
const (
	TargetWidth  = 800
	TargetHeight = 600
	JPEGQuality  = 75
)

type decodeFunc func(io.Reader) (image.Image, error)

var decoders = map[string]decodeFunc{
	"jpg":  jpeg.Decode,
	"jpeg": jpeg.Decode,
	"png":  png.Decode,
	"webp": webp.Decode,
}

// SupportedImageExtensions lists the extensions NormalizeImage accepts
func SupportedImageExtensions() []string {
	return []string{"jpg", "jpeg", "png", "webp"}
}

// Normalizer applies the media normalization rules and writes the result
// to the artifact store. It never touches the product store.
type Normalizer struct {
	store  domain.ArtifactStore
	tracer trace.Tracer
}

// NewNormalizer creates a normalizer writing into store
func NewNormalizer(store domain.ArtifactStore, tracer trace.Tracer) *Normalizer {
	return &Normalizer{store: store, tracer: tracer}
}

// NormalizeImage decodes, validates, scales and re-encodes an image and
// stores it under the images namespace. The image is stretched to exactly
// 800x600 without cropping; aspect ratio is not preserved.
func (n *Normalizer) NormalizeImage(ctx context.Context, payload domain.MediaPayload) (string, error) {
	ctx, span := n.tracer.Start(ctx, "Normalizer.NormalizeImage")
	defer span.End()

	ext := payload.NormalizedExtension()
	span.SetAttributes(
		attribute.String("media.extension", ext),
		attribute.Int("media.size", len(payload.Data)),
	)

	decode, ok := decoders[ext]
	if !ok {
		err := &domain.MediaRejectedError{Reason: domain.RejectUnsupportedFormat, Extension: ext}
		span.SetStatus(codes.Error, "Unsupported format")
		return "", err
	}

	src, err := decode(bytes.NewReader(payload.Data))
	if err != nil || src == nil || src.Bounds().Empty() {
		rejected := &domain.MediaRejectedError{Reason: domain.RejectCorruptPayload, Extension: ext, Err: err}
		span.SetStatus(codes.Error, "Corrupt payload")
		return "", rejected
	}

	encoded, err := encode(scale(src))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Encode failed")
		return "", fmt.Errorf("encode jpeg: %w", err)
	}

	path, err := n.store.Write(ctx, domain.ImagesNamespace, "jpg", encoded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Artifact write failed")
		return "", fmt.Errorf("%w: %w", domain.ErrStorageFailed, err)
	}

	span.SetAttributes(attribute.String("media.path", path))
	span.SetStatus(codes.Ok, "Image normalized")
	return path, nil
}

// StoreVideo writes the raw video payload under the videos namespace
// without any transformation.
func (n *Normalizer) StoreVideo(ctx context.Context, payload domain.MediaPayload) (string, error) {
	ctx, span := n.tracer.Start(ctx, "Normalizer.StoreVideo")
	defer span.End()

	ext := payload.NormalizedExtension()
	span.SetAttributes(
		attribute.String("media.extension", ext),
		attribute.Int("media.size", len(payload.Data)),
	)

	path, err := n.store.Write(ctx, domain.VideosNamespace, ext, payload.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Artifact write failed")
		return "", fmt.Errorf("%w: %w", domain.ErrStorageFailed, err)
	}

	span.SetAttributes(attribute.String("media.path", path))
	span.SetStatus(codes.Ok, "Video stored")
	return path, nil
}

func scale(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, TargetWidth, TargetHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// encode renders the whole JPEG into memory so the store sees one complete
// buffer or nothing.
func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
