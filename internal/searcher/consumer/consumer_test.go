package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReloader struct{ calls int }

func (r *countingReloader) ReloadAll() int {
	r.calls++
	return 1
}

type countingInvalidator struct {
	calls int
	err   error
}

func (i *countingInvalidator) Invalidate(context.Context) error {
	i.calls++
	return i.err
}

func completeEvent(t *testing.T, status string) []byte {
	t.Helper()
	data, err := json.Marshal(ingestion.IndexCompleteEvent{ImageID: "img-1", ShardID: 1, Status: status})
	require.NoError(t, err)
	return data
}

func TestIndexedEventRefreshes(t *testing.T) {
	reloader, inv := &countingReloader{}, &countingInvalidator{}
	handle := HandleIndexComplete(reloader, inv)

	require.NoError(t, handle(context.Background(), nil, completeEvent(t, ingestion.StatusIndexed)))
	assert.Equal(t, 1, reloader.calls)
	assert.Equal(t, 1, inv.calls)
}

func TestFailedEventIgnored(t *testing.T) {
	reloader, inv := &countingReloader{}, &countingInvalidator{}
	handle := HandleIndexComplete(reloader, inv)

	require.NoError(t, handle(context.Background(), nil, completeEvent(t, ingestion.StatusFailed)))
	require.NoError(t, handle(context.Background(), nil, []byte("{")))
	assert.Zero(t, reloader.calls)
	assert.Zero(t, inv.calls)
}

func TestInvalidationErrorReturned(t *testing.T) {
	handle := HandleIndexComplete(&countingReloader{}, &countingInvalidator{err: errors.New("redis down")})
	assert.Error(t, handle(context.Background(), nil, completeEvent(t, ingestion.StatusIndexed)))
}

func TestNilInvalidator(t *testing.T) {
	reloader := &countingReloader{}
	handle := HandleIndexComplete(reloader, nil)
	require.NoError(t, handle(context.Background(), nil, completeEvent(t, ingestion.StatusIndexed)))
	assert.Equal(t, 1, reloader.calls)
}
