// Package queue carries media ingestion jobs from the catalog service to the
// ingestion workers, on Kafka in production and on a channel in process.
package queue

import (
	"fmt"
	"log/slog"

	"github.com/hamba/avro/v2"
	"github.com/mrops-br/catalog-media-api/internal/domain"
)

const PendingMediaSchemaTextV1 = `{
	"type": "record",
	"namespace": "catalog.media",
	"name": "PendingMedia",
	"fields": [
		{"name": "job_id", "type": "string"},
		{"name": "product_id", "type": "string"},
		{"name": "image", "default": null, "type": ["null", {
			"type": "record",
			"name": "Payload",
			"fields": [
				{"name": "data", "type": "bytes"},
				{"name": "extension", "type": "string"}
			]
		}]},
		{"name": "video", "default": null, "type": ["null", "Payload"]}
	]
}`

type (
	pendingMediaV1 struct {
		JobID     string     `avro:"job_id"`
		ProductID string     `avro:"product_id"`
		Image     *payloadV1 `avro:"image"`
		Video     *payloadV1 `avro:"video"`
	}

	payloadV1 struct {
		Data      []byte `avro:"data"`
		Extension string `avro:"extension"`
	}
)

var pendingMediaSchemaV1 = avro.MustParse(PendingMediaSchemaTextV1)

// EncodeJob serializes a job as a binary avro record
func EncodeJob(job domain.PendingMedia) ([]byte, error) {
	v := pendingMediaV1{
		JobID:     job.JobID,
		ProductID: job.ProductID,
		Image:     toPayloadV1(job.Image),
		Video:     toPayloadV1(job.Video),
	}
	b, err := avro.Marshal(pendingMediaSchemaV1, v)
	if err != nil {
		return nil, fmt.Errorf("encode pending media: %w", err)
	}
	return b, nil
}

// DecodeJob parses a record produced by EncodeJob
func DecodeJob(data []byte) (domain.PendingMedia, error) {
	var v pendingMediaV1
	if err := avro.Unmarshal(pendingMediaSchemaV1, data, &v); err != nil {
		return domain.PendingMedia{}, fmt.Errorf("decode pending media: %w", err)
	}
	return domain.PendingMedia{
		JobID:     v.JobID,
		ProductID: v.ProductID,
		Image:     fromPayloadV1(v.Image),
		Video:     fromPayloadV1(v.Video),
	}, nil
}

func toPayloadV1(p *domain.MediaPayload) *payloadV1 {
	if p == nil {
		return nil
	}
	return &payloadV1{Data: p.Data, Extension: p.Extension}
}

func fromPayloadV1(p *payloadV1) *domain.MediaPayload {
	if p == nil {
		return nil
	}
	return &domain.MediaPayload{Data: p.Data, Extension: p.Extension}
}

func jobAttrs(job domain.PendingMedia) []slog.Attr {
	return []slog.Attr{
		slog.String("job_id", job.JobID),
		slog.String("product_id", job.ProductID),
	}
}
