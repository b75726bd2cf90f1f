// Command crosscheck loads the segments under indexer.dataDir, re-indexes
// every document into an in-memory bleve index and compares the native
// similar-image results with bleve's answers to the exported queries. It
// prints the top-k overlap per sampled image and overall.
//
// Usage:
//
//	go run ./cmd/crosscheck [-config configs/development.yaml] [-sample 50] [-limit 10]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/bleveq"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	sample := flag.Int("sample", 50, "number of images to compare")
	limit := flag.Int("limit", 10, "results per similar query")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("crosscheck", cfg.Logging.Level, cfg.Logging.Format)

	terms, err := imgseek.FromConfig(cfg.ImgSeek)
	if err != nil {
		slog.Error("invalid imgseek configuration", "error", err)
		os.Exit(1)
	}
	router, err := shard.NewRouter(cfg.Indexer, cfg.Indexer.NumShards, terms, nil)
	if err != nil {
		slog.Error("failed to open shards", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	ev, err := bleveq.NewEvaluator()
	if err != nil {
		slog.Error("failed to create bleve index", "error", err)
		os.Exit(1)
	}
	defer ev.Close()

	var ids []string
	for _, engine := range router.GetAllEngines() {
		for _, id := range engine.DocIDs() {
			doc, err := engine.Document(id)
			if err != nil {
				slog.Error("failed to load document", "image_id", id, "error", err)
				os.Exit(1)
			}
			if err := ev.Add(doc); err != nil {
				slog.Error("failed to index document in bleve", "image_id", id, "error", err)
				os.Exit(1)
			}
			ids = append(ids, id)
		}
	}
	fmt.Printf("Loaded %d images from %d shards\n", len(ids), router.NumShards())
	if len(ids) == 0 {
		return
	}

	ctx := context.Background()
	exec := executor.NewSharded(router, cfg.Search.TimeoutPerShard)
	n := min(*sample, len(ids))
	var totalOverlap, totalResults int
	for _, id := range ids[:n] {
		native, err := exec.SimilarTo(ctx, id, *limit)
		if err != nil {
			fmt.Printf("%-40s native error: %v\n", id, err)
			continue
		}
		q, err := exec.SimilarQuery(id)
		if err != nil {
			fmt.Printf("%-40s query error: %v\n", id, err)
			continue
		}
		viaBleve, err := ev.Search(ctx, q, *limit, id)
		if err != nil {
			fmt.Printf("%-40s bleve error: %v\n", id, err)
			continue
		}
		shared := overlap(native.Results, viaBleve)
		totalOverlap += shared
		totalResults += len(native.Results)
		fmt.Printf("%-40s native=%-3d bleve=%-3d overlap=%d\n", id, len(native.Results), len(viaBleve), shared)
	}
	if totalResults > 0 {
		fmt.Printf("\nOverall top-%d overlap: %.1f%%\n", *limit, float64(totalOverlap)/float64(totalResults)*100)
	}
}

func overlap(a, b []ranker.ScoredDoc) int {
	in := make(map[string]struct{}, len(a))
	for _, d := range a {
		in[d.DocID] = struct{}{}
	}
	n := 0
	for _, d := range b {
		if _, ok := in[d.DocID]; ok {
			n++
		}
	}
	return n
}
