package domain

import "strings"

// MediaKind names the product column a media artifact is linked through
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Artifact store namespaces
const (
	ImagesNamespace = "images"
	VideosNamespace = "videos"
)

// MediaPayload is a raw uploaded file as received from the caller
type MediaPayload struct {
	Data      []byte
	Extension string
}

// NormalizedExtension returns the lower-cased extension without a leading dot
func (m MediaPayload) NormalizedExtension() string {
	return strings.ToLower(strings.TrimPrefix(m.Extension, "."))
}

// PendingMedia is one unit of deferred ingestion work for a single product.
// It is never persisted; it only travels through the job queue.
type PendingMedia struct {
	JobID     string
	ProductID string
	Image     *MediaPayload
	Video     *MediaPayload
}

// Empty reports whether the job carries no media at all
func (j PendingMedia) Empty() bool {
	return j.Image == nil && j.Video == nil
}
