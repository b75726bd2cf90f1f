package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type channel string

func (c channel) String() string { return string(c) }

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	return &buf
}

func TestFromContextCarriesImageAttributes(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithImageID(ctx, "img-1")
	ctx = WithShard(ctx, 3)
	ctx = WithChannel(ctx, channel("I"))
	FromContext(ctx).Info("similar query rejected")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "img-1", rec["image_id"])
	assert.Equal(t, float64(3), rec["shard_id"])
	assert.Equal(t, "I", rec["channel"])
}

func TestLaterAttributeReplacesEarlier(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithImageID(context.Background(), "img-1")
	ctx = WithImageID(ctx, "img-2")
	FromContext(ctx).Info("indexed")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"image_id"`)))
	assert.Contains(t, buf.String(), `"image_id":"img-2"`)
}

func TestFromContextWithoutAttributes(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
