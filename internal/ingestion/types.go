// Package ingestion defines the request/response types and Kafka event schemas
// used by the signature ingestion pipeline.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
)

// Image catalog statuses.
const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

// IngestRequest is the JSON body accepted by the ingestion HTTP endpoint.
// ImageID may be empty, in which case one is generated.
type IngestRequest struct {
	ImageID        string              `json:"image_id"`
	Signature      signature.Signature `json:"signature"`
	IdempotencyKey string              `json:"idempotency_key"`
}

// IngestResponse is returned to the caller after a signature is accepted.
type IngestResponse struct {
	ImageID string `json:"image_id"`
	Status  string `json:"status"`
	ShardID int    `json:"shard_id"`
}

// SignatureEvent is the Kafka message payload produced after an image is
// catalogued and ready for indexing.
type SignatureEvent struct {
	ImageID    string              `json:"image_id"`
	Signature  signature.Signature `json:"signature"`
	ShardID    int                 `json:"shard_id"`
	IngestedAt time.Time           `json:"ingested_at"`
}

// IndexCompleteEvent is published by the indexer once a signature has been
// indexed, or has failed to index.
type IndexCompleteEvent struct {
	ImageID   string    `json:"image_id"`
	ShardID   int       `json:"shard_id"`
	Status    string    `json:"status"`
	IndexedAt time.Time `json:"indexed_at"`
}
