package index

import (
	"sort"
	"sync"
)

type MemoryIndex struct {
	mu       sync.RWMutex
	index    map[string]map[string]*Posting
	docs     map[string]*Document
	docCount int
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[string]map[string]*Posting),
		docs:  make(map[string]*Document),
	}
}

// AddDocument indexes every term of doc. Re-adding a document ID replaces
// the previous version's postings.
func (m *MemoryIndex) AddDocument(doc *Document) {
	terms := doc.Terms()

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, exists := m.docs[doc.ID]; exists {
		m.removePostings(prev)
	} else {
		m.docCount++
	}
	for _, term := range terms {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][doc.ID] = &Posting{
			DocID:     doc.ID,
			Frequency: 1,
		}
	}
	m.size += documentSize(doc)
	m.docs[doc.ID] = doc
}

// removePostings drops doc's postings and its share of the size estimate.
func (m *MemoryIndex) removePostings(doc *Document) {
	for _, term := range doc.Terms() {
		docs, exists := m.index[term]
		if !exists {
			continue
		}
		delete(docs, doc.ID)
		if len(docs) == 0 {
			delete(m.index, term)
		}
	}
	m.size -= documentSize(doc)
}

// documentSize estimates the bytes a document holds in the index: one
// posting per term plus its stored values.
func documentSize(doc *Document) int64 {
	var n int64
	for _, term := range doc.Terms() {
		n += int64(len(term) + len(doc.ID) + 64)
	}
	for _, field := range doc.Fields() {
		v, _ := doc.Value(field)
		n += int64(len(field) + len(v))
	}
	return n
}

func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Document returns the in-memory document with the given ID.
func (m *MemoryIndex) Document(docID string) (*Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	return doc, ok
}

// Snapshot returns the term entries sorted by term and the documents sorted
// by ID.
func (m *MemoryIndex) Snapshot() ([]TermEntry, []*Document) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: postings,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	docs := make([]*Document, 0, len(m.docs))
	for _, doc := range m.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})
	return entries, docs
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docCount
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.docs = make(map[string]*Document)
	m.docCount = 0
	m.size = 0
}
