package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/bleveq"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/tracing"
)

type Handler struct {
	searcher     executor.Searcher
	cache        *cache.SimilarCache
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New creates a Handler. similarCache and m may be nil.
func New(searcher executor.Searcher, similarCache *cache.SimilarCache, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		searcher:     searcher,
		cache:        similarCache,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "similar-handler"),
	}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/similar", h.Similar)
	mux.HandleFunc("GET /api/v1/similar/query", h.SimilarQuery)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Similar answers GET /api/v1/similar?id=&limit= with the images most
// similar to id.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "similar", middleware.GetRequestID(r.Context()))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(log)
	}()

	imageID := r.URL.Query().Get("id")
	if imageID == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'id' is required")
		return
	}
	ctx = logger.WithImageID(ctx, imageID)
	log = logger.FromContext(ctx)

	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > h.maxResults {
			parsed = h.maxResults
		}
		limit = parsed
	}

	var result *executor.SearchResult
	var err error
	cacheHit := false

	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, imageID, limit, func(ctx context.Context) (*executor.SearchResult, error) {
			return h.searcher.SimilarTo(ctx, imageID, limit)
		})
	} else {
		result, err = h.searcher.SimilarTo(ctx, imageID, limit)
	}

	if err != nil {
		h.recordFailure(err)
		log = failureLogger(ctx, err)
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("similar query failed", "error", err)
			h.writeError(w, status, "similar query failed")
			return
		}
		log.Info("similar query rejected", "status", status, "error", err)
		h.writeError(w, status, err.Error())
		return
	}

	elapsed := time.Since(start)
	span.SetAttr("image_id", imageID)
	span.SetAttr("cache_hit", cacheHit)
	log.Info("similar query completed",
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	if h.metrics != nil {
		resultType, cacheStatus := "miss", "miss"
		if cacheHit {
			resultType, cacheStatus = "hit", "hit"
		}
		if len(result.Results) == 0 {
			resultType = "zero_result"
		}
		h.metrics.SimilarQueriesTotal.WithLabelValues(resultType).Inc()
		h.metrics.SimilarLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
		h.metrics.SimilarResultsCount.Observe(float64(len(result.Results)))
	}

	h.writeJSON(w, http.StatusOK, result)
}

type queryResponse struct {
	ImageID string          `json:"image_id"`
	Query   string          `json:"query"`
	Terms   int             `json:"terms"`
	Bleve   json.RawMessage `json:"bleve"`
}

// SimilarQuery answers GET /api/v1/similar/query?id= with the similarity
// query built for id, in text form and as a bleve query.
func (h *Handler) SimilarQuery(w http.ResponseWriter, r *http.Request) {
	imageID := r.URL.Query().Get("id")
	if imageID == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'id' is required")
		return
	}
	ctx := logger.WithImageID(r.Context(), imageID)
	q, err := h.searcher.SimilarQuery(imageID)
	if err != nil {
		h.recordFailure(err)
		status := apperrors.HTTPStatusCode(err)
		failureLogger(ctx, err).Info("similar query build failed", "status", status, "error", err)
		h.writeError(w, status, err.Error())
		return
	}
	exported, err := json.Marshal(bleveq.ToBleve(q, bleveq.TermsField))
	if err != nil {
		logger.FromContext(ctx).Error("bleve export failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "bleve export failed")
		return
	}
	h.writeJSON(w, http.StatusOK, queryResponse{
		ImageID: imageID,
		Query:   q.String(),
		Terms:   len(query.Terms(q)),
		Bleve:   exported,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) recordFailure(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, apperrors.ErrDocumentNotFound):
		h.metrics.SimilarQueriesTotal.WithLabelValues("not_found").Inc()
	default:
		h.metrics.SimilarQueriesTotal.WithLabelValues("error").Inc()
	}
	if ch, ok := imgseek.FailedChannel(err); ok {
		h.metrics.QueryBuildFailures.WithLabelValues(ch.String()).Inc()
	}
}

// failureLogger adds the colour channel a query failed on, when known.
func failureLogger(ctx context.Context, err error) *slog.Logger {
	if ch, ok := imgseek.FailedChannel(err); ok {
		ctx = logger.WithChannel(ctx, ch)
	}
	return logger.FromContext(ctx)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
