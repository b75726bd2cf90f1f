package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	segmentSuffix       = ".spdx"
	defaultDocCacheSize = 1024
	memoryOwner         = -1
)

// Engine is a single-shard signature index: an in-memory index flushed to
// immutable segment files. When a document ID is indexed again, the newest
// version wins and older segments stop matching it.
type Engine struct {
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	terms    *imgseek.ImgTerms
	docCache *lru.Cache[string, *index.Document]
	metrics  *metrics.Metrics
	cfg      config.IndexerConfig
	logger   *slog.Logger

	// flushMu keeps documents from being added between a snapshot and the
	// reset that follows it, and keeps reload scans from racing a flush.
	flushMu sync.Mutex

	readerMu sync.RWMutex
	readers  []*segment.Reader
	loaded   map[string]struct{}
	owners   map[string]int

	docLengthsMu sync.RWMutex
	docLengths   map[string]int
	totalTerms   int64
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithMetrics records flushes and reloads on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(cfg config.IndexerConfig, terms *imgseek.ImgTerms, opts ...Option) (*Engine, error) {
	if terms == nil {
		return nil, apperrors.Configurationf("indexer: image terms are required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	cacheSize := cfg.DocumentCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultDocCacheSize
	}
	docCache, err := lru.New[string, *index.Document](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating document cache: %w", err)
	}
	e := &Engine{
		memIndex:   index.NewMemoryIndex(),
		writer:     segment.NewWriter(cfg.DataDir),
		terms:      terms,
		docCache:   docCache,
		cfg:        cfg,
		logger:     slog.Default().With("component", "indexer", "data_dir", cfg.DataDir),
		loaded:     make(map[string]struct{}),
		owners:     make(map[string]int),
		docLengths: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.loadExistingSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// Terms returns the term layout the engine indexes with.
func (e *Engine) Terms() *imgseek.ImgTerms {
	return e.terms
}

// IndexSignature turns sig into a document and indexes it under docID.
func (e *Engine) IndexSignature(docID string, sig *signature.Signature) error {
	if docID == "" {
		return apperrors.InvalidInputf("image id is required")
	}
	if sig == nil {
		return apperrors.InvalidInputf("signature of %s is required", docID)
	}
	// Similar queries cannot be built for positions outside the table.
	table := e.terms.Table()
	for _, c := range signature.Channels {
		for _, pos := range sig.Positions(c) {
			if !table.Contains(pos, c) {
				return &imgseek.ChannelError{
					Channel: c,
					Err:     apperrors.InvalidInputf("position %d of %s is outside the weight table", pos, docID),
				}
			}
		}
	}
	doc := index.NewDocument(docID)
	if err := e.terms.Index(doc, sig); err != nil {
		return fmt.Errorf("building document %s: %w", docID, err)
	}
	return e.IndexDocument(doc)
}

// IndexDocument adds doc to the in-memory index, replacing any earlier
// version, and flushes when the memory index grows past SegmentMaxSize.
func (e *Engine) IndexDocument(doc *index.Document) error {
	e.flushMu.Lock()
	e.memIndex.AddDocument(doc)
	e.readerMu.Lock()
	e.owners[doc.ID] = memoryOwner
	e.readerMu.Unlock()
	e.docCache.Remove(doc.ID)
	e.setDocLength(doc.ID, doc.TermCount())
	e.flushMu.Unlock()

	e.logger.Debug("document indexed in memory",
		"doc_id", doc.ID,
		"term_count", doc.TermCount(),
		"mem_size", e.memIndex.Size(),
	)
	if e.cfg.SegmentMaxSize > 0 && e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

func (e *Engine) Flush() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	entries, docs := e.memIndex.Snapshot()
	if len(docs) == 0 {
		return nil
	}
	segmentName, err := e.writer.Write(entries, docs)
	if err != nil {
		e.recordFlush("error")
		return fmt.Errorf("writing segment: %w", err)
	}

	segPath := filepath.Join(e.cfg.DataDir, segmentName)
	reader, err := segment.OpenReader(segPath)
	if err != nil {
		e.recordFlush("error")
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readerMu.Lock()
	e.addReaderLocked(reader, true)
	active := len(e.readers)
	e.readerMu.Unlock()
	e.memIndex.Reset()
	e.recordFlush("success")
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", active,
	)
	return nil
}

// Search returns the postings of an exact term across memory and segments.
func (e *Engine) Search(term string) (index.PostingList, error) {
	if term == "" {
		return nil, nil
	}
	e.readerMu.RLock()
	readers := make([]*segment.Reader, len(e.readers))
	copy(readers, e.readers)
	e.readerMu.RUnlock()

	var allPostings index.PostingList
	for _, p := range e.memIndex.Search(term) {
		if e.ownedBy(p.DocID, memoryOwner) {
			allPostings = append(allPostings, p)
		}
	}
	for i, reader := range readers {
		postings, err := reader.Search(term)
		if err != nil {
			e.logger.Error("segment search failed",
				"segment", reader.Name(),
				"error", err,
			)
			continue
		}
		for _, p := range postings {
			if e.ownedBy(p.DocID, i) {
				allPostings = append(allPostings, p)
			}
		}
	}
	return deduplicatePostings(allPostings), nil
}

// Document returns the newest indexed version of docID.
func (e *Engine) Document(docID string) (*index.Document, error) {
	if doc, ok := e.memIndex.Document(docID); ok {
		return doc, nil
	}
	e.readerMu.RLock()
	owner, ok := e.owners[docID]
	var reader *segment.Reader
	if ok && owner >= 0 {
		reader = e.readers[owner]
	}
	e.readerMu.RUnlock()
	if reader == nil {
		return nil, apperrors.NotFoundf("image %q is not indexed", docID)
	}
	if doc, ok := e.docCache.Get(docID); ok {
		return doc, nil
	}
	doc, err := reader.Document(docID)
	if err != nil {
		return nil, fmt.Errorf("loading document %s from %s: %w", docID, reader.Name(), err)
	}
	if doc == nil {
		return nil, apperrors.NotFoundf("image %q is not indexed", docID)
	}
	e.docCache.Add(docID, doc)
	return doc, nil
}

// DocIDs returns the IDs of every indexed document in sorted order.
func (e *Engine) DocIDs() []string {
	e.readerMu.RLock()
	ids := make([]string, 0, len(e.owners))
	for id := range e.owners {
		ids = append(ids, id)
	}
	e.readerMu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (e *Engine) GetDocLength(docID string) int {
	e.docLengthsMu.RLock()
	defer e.docLengthsMu.RUnlock()
	return e.docLengths[docID]
}

func (e *Engine) GetAvgDocLength() float64 {
	e.docLengthsMu.RLock()
	defer e.docLengthsMu.RUnlock()
	if len(e.docLengths) == 0 {
		return 0
	}
	return float64(e.totalTerms) / float64(len(e.docLengths))
}

func (e *Engine) GetTotalDocs() int64 {
	e.docLengthsMu.RLock()
	defer e.docLengthsMu.RUnlock()
	return int64(len(e.docLengths))
}

// ReloadSegments opens segment files written to the data directory by
// another process since the last scan. It returns the number of segments
// loaded.
func (e *Engine) ReloadSegments() int {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	names, err := e.segmentFiles()
	if err != nil {
		e.logger.Error("scanning for segments failed", "error", err)
		return 0
	}
	loaded := 0
	for _, name := range names {
		e.readerMu.RLock()
		_, known := e.loaded[name]
		e.readerMu.RUnlock()
		if known {
			continue
		}
		reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, name))
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readerMu.Lock()
		e.addReaderLocked(reader, false)
		e.readerMu.Unlock()
		loaded++
		e.logger.Info("loaded new segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	if loaded > 0 && e.metrics != nil {
		e.metrics.SegmentReloadsTotal.Add(float64(loaded))
	}
	return loaded
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.memIndex.DocCount() > 0 {
					if err := e.Flush(); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

// StartReloadLoop periodically picks up segments flushed by the indexer.
func (e *Engine) StartReloadLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReloadInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.ReloadSegments()
			}
		}
	}()
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	e.owners = make(map[string]int)
	return nil
}

func (e *Engine) loadExistingSegments() error {
	names, err := e.segmentFiles()
	if err != nil {
		return err
	}
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	for _, name := range names {
		path := filepath.Join(e.cfg.DataDir, name)
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.addReaderLocked(reader, false)
		e.logger.Info("loaded existing segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	e.logger.Info("segment recovery complete", "segments_loaded", len(e.readers))
	return nil
}

// segmentFiles lists the data directory's segment files oldest first.
// Segment names embed their creation time, so name order is age order.
func (e *Engine) segmentFiles() ([]string, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segmentSuffix) {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)
	return segFiles, nil
}

// addReaderLocked makes reader the newest segment and hands it ownership of
// the documents it stores. A segment found on disk does not take over a
// document that has a newer in-memory version; a segment produced by Flush
// always does. Callers hold readerMu.
func (e *Engine) addReaderLocked(reader *segment.Reader, flushed bool) {
	idx := len(e.readers)
	e.readers = append(e.readers, reader)
	e.loaded[reader.Name()] = struct{}{}
	for _, entry := range reader.DocEntries() {
		if owner, ok := e.owners[entry.DocID]; ok && owner == memoryOwner && !flushed {
			continue
		}
		e.owners[entry.DocID] = idx
		e.docCache.Remove(entry.DocID)
		e.setDocLength(entry.DocID, entry.TermCount)
	}
}

func (e *Engine) ownedBy(docID string, owner int) bool {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	current, ok := e.owners[docID]
	return ok && current == owner
}

func (e *Engine) setDocLength(docID string, length int) {
	e.docLengthsMu.Lock()
	defer e.docLengthsMu.Unlock()
	if prev, ok := e.docLengths[docID]; ok {
		e.totalTerms -= int64(prev)
	}
	e.docLengths[docID] = length
	e.totalTerms += int64(length)
}

func (e *Engine) recordFlush(status string) {
	if e.metrics != nil {
		e.metrics.IndexFlushesTotal.WithLabelValues(status).Inc()
	}
}

func deduplicatePostings(postings index.PostingList) index.PostingList {
	if len(postings) <= 1 {
		return postings
	}
	seen := make(map[string]int)
	result := make(index.PostingList, 0, len(postings))
	for _, p := range postings {
		if idx, exists := seen[p.DocID]; exists {
			if p.Frequency > result[idx].Frequency {
				result[idx] = p
			}
		} else {
			seen[p.DocID] = len(result)
			result = append(result, p)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}
