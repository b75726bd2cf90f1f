package index

import (
	"encoding/json"
	"sort"
	"strings"
)

// Document is a unit of indexing: a set of terms kept in sorted order and a
// set of named stored values. A Document is not safe for concurrent
// mutation.
type Document struct {
	ID     string
	terms  []string
	values map[string][]byte
}

func NewDocument(id string) *Document {
	return &Document{
		ID:     id,
		values: make(map[string][]byte),
	}
}

// AddTerm inserts term into the document's term set. Adding a term twice
// has no effect.
func (d *Document) AddTerm(term string) {
	i := sort.SearchStrings(d.terms, term)
	if i < len(d.terms) && d.terms[i] == term {
		return
	}
	d.terms = append(d.terms, "")
	copy(d.terms[i+1:], d.terms[i:])
	d.terms[i] = term
}

// HasTerm reports whether term is in the document.
func (d *Document) HasTerm(term string) bool {
	i := sort.SearchStrings(d.terms, term)
	return i < len(d.terms) && d.terms[i] == term
}

// Terms returns the document's terms in sorted order.
func (d *Document) Terms() []string {
	out := make([]string, len(d.terms))
	copy(out, d.terms)
	return out
}

// TermsWithPrefix skips to the first term >= prefix and returns the run of
// terms that start with it.
func (d *Document) TermsWithPrefix(prefix string) []string {
	start := sort.SearchStrings(d.terms, prefix)
	end := start
	for end < len(d.terms) && strings.HasPrefix(d.terms[end], prefix) {
		end++
	}
	out := make([]string, end-start)
	copy(out, d.terms[start:end])
	return out
}

// TermCount is the document length used for ranking.
func (d *Document) TermCount() int {
	return len(d.terms)
}

func (d *Document) SetValue(field string, value []byte) {
	if d.values == nil {
		d.values = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	d.values[field] = stored
}

func (d *Document) Value(field string) ([]byte, bool) {
	v, ok := d.values[field]
	return v, ok
}

// Fields returns the names of the stored values in sorted order.
func (d *Document) Fields() []string {
	fields := make([]string, 0, len(d.values))
	for f := range d.values {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

type storedDocument struct {
	ID     string            `json:"id"`
	Terms  []string          `json:"terms"`
	Values map[string][]byte `json:"values"`
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(storedDocument{
		ID:     d.ID,
		Terms:  d.terms,
		Values: d.values,
	})
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var sd storedDocument
	if err := json.Unmarshal(data, &sd); err != nil {
		return err
	}
	d.ID = sd.ID
	d.terms = nil
	for _, term := range sd.Terms {
		d.AddTerm(term)
	}
	d.values = sd.Values
	if d.values == nil {
		d.values = make(map[string][]byte)
	}
	return nil
}
