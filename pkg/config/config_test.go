package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "I", cfg.ImgSeek.TermPrefix)
	assert.Equal(t, 128, cfg.ImgSeek.NumPixels)
	assert.Equal(t, 255, cfg.ImgSeek.Buckets)
	assert.Equal(t, [3]string{"avg_y", "avg_i", "avg_q"}, cfg.ImgSeek.AverageFields)
	assert.Equal(t, "signature-ingest", cfg.Kafka.Topics.SignatureIngest)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
indexer:
  numShards: 2
  flushInterval: 5s
imgseek:
  termPrefix: S
  averageFields: [y, i, q]
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("IMGSEEK_NUM_PIXELS", "64")
	t.Setenv("IMGSEEK_METRICS_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Indexer.NumShards)
	assert.Equal(t, 5*time.Second, cfg.Indexer.FlushInterval)
	assert.Equal(t, "S", cfg.ImgSeek.TermPrefix)
	assert.Equal(t, [3]string{"y", "i", "q"}, cfg.ImgSeek.AverageFields)
	assert.Equal(t, 64, cfg.ImgSeek.NumPixels)
	assert.Equal(t, 255, cfg.ImgSeek.Buckets)
	assert.Equal(t, 9191, cfg.Metrics.Port)
}

func TestLoadRejectsInvalidLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("imgseek:\n  averageFields: [a, a, b]\n"), 0o644))
	_, err := Load(path)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestImgSeekValidate(t *testing.T) {
	valid := defaultConfig().ImgSeek
	require.NoError(t, valid.Validate())

	tests := map[string]func(c *ImgSeekConfig){
		"zero pixels":     func(c *ImgSeekConfig) { c.NumPixels = 0 },
		"zero buckets":    func(c *ImgSeekConfig) { c.Buckets = 0 },
		"negative radius": func(c *ImgSeekConfig) { c.DistanceRadius = -1 },
		"empty field":     func(c *ImgSeekConfig) { c.AverageFields[1] = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), apperrors.ErrConfiguration)
		})
	}
}
