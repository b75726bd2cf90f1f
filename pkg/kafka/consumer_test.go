package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexComplete struct {
	ImageID string `json:"image_id"`
	ShardID int    `json:"shard_id"`
}

func TestJSONDecodesTypedEvent(t *testing.T) {
	var got indexComplete
	var gotKey string
	handle := JSON("index-complete", func(_ context.Context, key string, event indexComplete) error {
		gotKey, got = key, event
		return nil
	})

	require.NoError(t, handle(context.Background(), []byte("img-7"), []byte(`{"image_id":"img-7","shard_id":2}`)))
	assert.Equal(t, "img-7", gotKey)
	assert.Equal(t, indexComplete{ImageID: "img-7", ShardID: 2}, got)
}

func TestJSONSkipsUndecodableValue(t *testing.T) {
	called := false
	handle := JSON("index-complete", func(context.Context, string, indexComplete) error {
		called = true
		return nil
	})

	assert.NoError(t, handle(context.Background(), []byte("img-7"), []byte("{truncated")))
	assert.False(t, called)
}

func TestJSONReturnsHandlerError(t *testing.T) {
	errReload := errors.New("segment unreadable")
	handle := JSON("index-complete", func(context.Context, string, indexComplete) error {
		return errReload
	})

	assert.ErrorIs(t, handle(context.Background(), nil, []byte(`{"image_id":"img-7"}`)), errReload)
}
