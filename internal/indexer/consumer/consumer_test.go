package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/weights"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStatuses struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (r *recordingStatuses) UpdateStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ingestion.IndexCompleteEvent
}

func (n *recordingNotifier) Publish(_ context.Context, event kafka.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event.Value.(ingestion.IndexCompleteEvent))
	return nil
}

func newTestRouter(t *testing.T) *shard.Router {
	t.Helper()
	table, err := weights.NewHaarTable(weights.DefaultNumPixels)
	require.NoError(t, err)
	terms, err := imgseek.New(imgseek.Config{
		Prefix:        "I",
		AverageFields: [signature.NumChannels]string{"avg_y", "avg_i", "avg_q"},
	}, table)
	require.NoError(t, err)
	router, err := shard.NewRouter(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1 << 30}, 2, terms, nil)
	require.NoError(t, err)
	t.Cleanup(func() { router.Close() })
	return router
}

func encode(t *testing.T, event ingestion.SignatureEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func TestHandleSignatureIndexes(t *testing.T) {
	router := newTestRouter(t)
	statuses := &recordingStatuses{statuses: make(map[string]string)}
	notifier := &recordingNotifier{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	handle := HandleSignature(router, statuses, notifier, m)

	event := ingestion.SignatureEvent{
		ImageID: "img-1",
		ShardID: router.ShardFor("img-1"),
		Signature: signature.Signature{
			Coeffs:   [signature.NumChannels][]int{{0, 5, -3}, {2}, {}},
			Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
		},
	}
	require.NoError(t, handle(context.Background(), []byte("img-1"), encode(t, event)))

	doc, err := router.Document("img-1")
	require.NoError(t, err)
	assert.Contains(t, doc.Terms(), "I0_5")
	assert.Equal(t, ingestion.StatusIndexed, statuses.statuses["img-1"])
	require.Len(t, notifier.events, 1)
	assert.Equal(t, ingestion.StatusIndexed, notifier.events[0].Status)
	assert.Equal(t, event.ShardID, notifier.events[0].ShardID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignaturesIndexedTotal))
}

func TestHandleSignatureSkipsUndecodable(t *testing.T) {
	router := newTestRouter(t)
	notifier := &recordingNotifier{}
	handle := HandleSignature(router, nil, notifier, nil)

	assert.NoError(t, handle(context.Background(), nil, []byte("not json")))
	assert.NoError(t, handle(context.Background(), nil, []byte(`{"shard_id":1}`)))
	assert.Empty(t, notifier.events)
}

func TestHandleSignatureRejectsInvalidSignature(t *testing.T) {
	router := newTestRouter(t)
	statuses := &recordingStatuses{statuses: make(map[string]string)}
	handle := HandleSignature(router, statuses, nil, nil)

	event := ingestion.SignatureEvent{
		ImageID: "img-bad",
		Signature: signature.Signature{
			Coeffs: [signature.NumChannels][]int{{1 << 20}, {}, {}},
		},
	}
	require.NoError(t, handle(context.Background(), nil, encode(t, event)))
	assert.Equal(t, ingestion.StatusFailed, statuses.statuses["img-bad"])
	_, err := router.Document("img-bad")
	assert.Error(t, err)
}
