// Command loadtest seeds the ingestion service with random signatures and
// then drives GET /api/v1/similar on the search service with the seeded
// image IDs, reporting throughput, latency percentiles and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest [-ingest http://localhost:8081] [-url http://localhost:8080]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
)

type Config struct {
	BaseURL     string
	IngestURL   string
	Concurrency int
	Duration    time.Duration
	Limit       int
	ImageIDs    []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	ingestURL := flag.String("ingest", "http://localhost:8081", "base URL of the ingestion service")
	images := flag.Int("images", 200, "number of random signatures to seed")
	coeffs := flag.Int("coeffs", 40, "coefficients per channel in seeded signatures")
	numPixels := flag.Int("pixels", 128, "side length of the decomposed image")
	settle := flag.Duration("settle", 15*time.Second, "wait after seeding for indexing to complete")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 10, "results per similar query")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		IngestURL:   *ingestURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
	}

	fmt.Println("=== imgseek Load Test ===")
	fmt.Printf("Search:      %s\n", cfg.BaseURL)
	fmt.Printf("Ingestion:   %s\n", cfg.IngestURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	rng := rand.New(rand.NewSource(*seed))
	ids, err := seedImages(cfg.IngestURL, *images, *coeffs, *numPixels, rng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no images seeded")
		os.Exit(1)
	}
	cfg.ImageIDs = ids
	fmt.Printf("Seeded %d images, waiting %s for indexing\n", len(ids), *settle)
	time.Sleep(*settle)

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

// seedImages posts n random signatures and returns the accepted image IDs.
func seedImages(ingestURL string, n, coeffs, numPixels int, rng *rand.Rand) ([]string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	half := numPixels * numPixels
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		req := ingestion.IngestRequest{
			ImageID:   fmt.Sprintf("loadtest-%d", i),
			Signature: randomSignature(rng, coeffs, half),
		}
		body, err := json.Marshal(req)
		if err != nil {
			return ids, err
		}
		resp, err := client.Post(ingestURL+"/api/v1/images", "application/json", bytes.NewReader(body))
		if err != nil {
			return ids, fmt.Errorf("posting %s: %w", req.ImageID, err)
		}
		var accepted ingestion.IngestResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&accepted)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return ids, fmt.Errorf("posting %s: status %d", req.ImageID, resp.StatusCode)
		}
		if decodeErr != nil {
			return ids, fmt.Errorf("decoding response for %s: %w", req.ImageID, decodeErr)
		}
		ids = append(ids, accepted.ImageID)
	}
	return ids, nil
}

// randomSignature draws distinct positions biased towards the low-frequency
// corner, where real decompositions concentrate their significant
// coefficients.
func randomSignature(rng *rand.Rand, coeffs, half int) signature.Signature {
	var sig signature.Signature
	for _, c := range signature.Channels {
		seen := make(map[int]struct{}, coeffs)
		positions := make([]int, 0, coeffs)
		for len(positions) < coeffs {
			p := int(math.Abs(rng.NormFloat64()) * float64(half) / 16)
			if p >= half {
				continue
			}
			if rng.Intn(2) == 0 {
				p = -p - 1
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			positions = append(positions, p)
		}
		sig.Coeffs[c] = positions
	}
	sig.Averages = [signature.NumChannels]float64{rng.Float64(), rng.Float64() - 0.5, rng.Float64() - 0.5}
	return sig
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			idx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				imageID := cfg.ImageIDs[idx%len(cfg.ImageIDs)]
				idx++

				similarURL := fmt.Sprintf("%s/api/v1/similar?id=%s&limit=%d",
					cfg.BaseURL, url.QueryEscape(imageID), cfg.Limit)

				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, similarURL))
				duration := time.Since(start)

				if err != nil {
					stats.RecordRequest(duration, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func mustNewRequest(ctx context.Context, rawURL string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
