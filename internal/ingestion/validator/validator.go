// Package validator checks ingestion requests before they are catalogued:
// coefficient positions must fit the weight table, averages must be finite
// and no channel may carry more than the configured number of coefficients.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
)

const (
	maxImageIDLength        = 255
	maxIdempotencyKeyLength = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Limits bounds an acceptable signature. N is the coefficient-space
// half-width, so positions must lie in [-N, N).
type Limits struct {
	N               int
	MaxCoefficients int
}

// ValidateIngestRequest checks req against limits and returns a
// ValidationError naming every offending field.
func ValidateIngestRequest(req *ingestion.IngestRequest, limits Limits) error {
	errs := make(map[string]string)

	if len(req.ImageID) > maxImageIDLength {
		errs["image_id"] = fmt.Sprintf("image id must be at most %d characters", maxImageIDLength)
	} else if req.ImageID != "" && strings.TrimSpace(req.ImageID) != req.ImageID {
		errs["image_id"] = "image id must not have leading or trailing whitespace"
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKeyLength)
	}

	sig := &req.Signature
	for _, c := range signature.Channels {
		field := fmt.Sprintf("signature.coeffs[%d]", int(c))
		if msg := checkPositions(sig.Positions(c), limits); msg != "" {
			errs[field] = msg
		}

		avg := sig.Average(c)
		if math.IsNaN(avg) || math.IsInf(avg, 0) {
			errs[fmt.Sprintf("signature.averages[%d]", int(c))] = "average must be finite"
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkPositions(positions []int, limits Limits) string {
	if limits.MaxCoefficients > 0 && len(positions) > limits.MaxCoefficients {
		return fmt.Sprintf("at most %d coefficients per channel, got %d", limits.MaxCoefficients, len(positions))
	}
	for _, p := range positions {
		if p < -limits.N || p >= limits.N {
			return fmt.Sprintf("position %d outside [%d, %d)", p, -limits.N, limits.N)
		}
	}
	return ""
}
