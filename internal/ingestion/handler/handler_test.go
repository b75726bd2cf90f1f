package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	got *ingestion.IngestRequest
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.IngestResponse{ImageID: req.ImageID, Status: ingestion.StatusPending, ShardID: 2}, nil
}

func post(t *testing.T, ing Ingester, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	New(ing, validator.Limits{N: 16384, MaxCoefficients: 60}).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/images", strings.NewReader(body)))
	return rec
}

const validBody = `{"image_id":"img-1","signature":{"coeffs":[[0,5,-3],[2],[]],"averages":[0.5,0,-0.1]}}`

func TestIngestAccepted(t *testing.T) {
	ing := &fakeIngester{}
	rec := post(t, ing, validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestion.IngestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "img-1", resp.ImageID)
	assert.Equal(t, 2, resp.ShardID)
	assert.Equal(t, []int{0, 5, -3}, ing.got.Signature.Coeffs[0])
	assert.Equal(t, -0.1, ing.got.Signature.Averages[2])
}

func TestIngestInvalidJSON(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, post(t, &fakeIngester{}, `{"image_id":`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, &fakeIngester{}, `{"title":"x"}`).Code)
}

func TestIngestValidationFailure(t *testing.T) {
	ing := &fakeIngester{}
	rec := post(t, ing, `{"image_id":"img-1","signature":{"coeffs":[[99999],[],[]],"averages":[0,0,0]}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Fields, "signature.coeffs[0]")
	assert.Nil(t, ing.got)
}

func TestIngestConflict(t *testing.T) {
	ing := &fakeIngester{err: apperrors.New(apperrors.ErrIdempotencyConflict, http.StatusConflict, "idempotency key already in use")}
	assert.Equal(t, http.StatusConflict, post(t, ing, validBody).Code)
}
