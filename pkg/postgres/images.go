package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const imagesSchema = `
CREATE TABLE IF NOT EXISTS images (
	id                TEXT PRIMARY KEY,
	shard_id          INTEGER NOT NULL,
	coefficient_count INTEGER NOT NULL,
	signature         JSONB NOT NULL,
	idempotency_key   TEXT UNIQUE,
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	indexed_at        TIMESTAMPTZ
)`

// ImageRecord is one row of the image catalog.
type ImageRecord struct {
	ID               string
	ShardID          int
	CoefficientCount int
	Signature        any
	IdempotencyKey   string
	Status           string
}

// ImageRepository stores the image catalog: one row per image with its
// signature and indexing status.
type ImageRepository struct {
	client *Client
}

func NewImageRepository(client *Client) *ImageRepository {
	return &ImageRepository{client: client}
}

// EnsureSchema creates the images table if it does not exist.
func (r *ImageRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.client.DB.ExecContext(ctx, imagesSchema); err != nil {
		return fmt.Errorf("creating images table: %w", err)
	}
	return nil
}

// Upsert inserts rec, or replaces the signature of an existing image and
// resets it to rec.Status. A clash on the idempotency key with a different
// image yields ErrIdempotencyConflict.
func (r *ImageRepository) Upsert(ctx context.Context, rec ImageRecord) error {
	sig, err := json.Marshal(rec.Signature)
	if err != nil {
		return fmt.Errorf("encoding signature: %w", err)
	}
	_, err = r.client.DB.ExecContext(ctx,
		`INSERT INTO images (id, shard_id, coefficient_count, signature, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			shard_id = EXCLUDED.shard_id,
			coefficient_count = EXCLUDED.coefficient_count,
			signature = EXCLUDED.signature,
			idempotency_key = COALESCE(EXCLUDED.idempotency_key, images.idempotency_key),
			status = EXCLUDED.status,
			indexed_at = NULL`,
		rec.ID, rec.ShardID, rec.CoefficientCount, sig, nullableString(rec.IdempotencyKey), rec.Status)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.New(apperrors.ErrIdempotencyConflict, http.StatusConflict, "idempotency key already in use")
	}
	if err != nil {
		return fmt.Errorf("upserting image %s: %w", rec.ID, err)
	}
	return nil
}

// FindByIdempotencyKey returns the image recorded under key, or nil.
func (r *ImageRepository) FindByIdempotencyKey(ctx context.Context, key string) (*ImageRecord, error) {
	var rec ImageRecord
	err := r.client.DB.QueryRowContext(ctx,
		`SELECT id, shard_id, coefficient_count, status FROM images WHERE idempotency_key = $1`, key,
	).Scan(&rec.ID, &rec.ShardID, &rec.CoefficientCount, &rec.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying by idempotency key: %w", err)
	}
	rec.IdempotencyKey = key
	return &rec, nil
}

// UpdateStatus sets the status of an image and stamps indexed_at.
func (r *ImageRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.client.DB.ExecContext(ctx,
		`UPDATE images SET status = $1, indexed_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFoundf("image %q is not catalogued", id)
	}
	return nil
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
