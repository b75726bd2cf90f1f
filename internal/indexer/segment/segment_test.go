package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestSegment(t *testing.T, dir string) string {
	t.Helper()
	m := index.NewMemoryIndex()
	a := index.NewDocument("img-a")
	a.AddTerm("I0_0")
	a.AddTerm("I0_-3")
	a.SetValue("avg_y", []byte{1, 2, 3, 4, 5, 6, 7, 8})
	b := index.NewDocument("img-b")
	b.AddTerm("I0_0")
	m.AddDocument(a)
	m.AddDocument(b)

	entries, docs := m.Snapshot()
	name, err := NewWriter(dir).Write(entries, docs)
	require.NoError(t, err)
	return filepath.Join(dir, name)
}

func TestWriteAndRead(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())
	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Terms())
	assert.Equal(t, uint32(2), r.DocCount())
	assert.Equal(t, filepath.Base(path), r.Name())

	postings, err := r.Search("I0_0")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assert.Equal(t, "img-a", postings[0].DocID)
	assert.Equal(t, "img-b", postings[1].DocID)

	postings, err = r.Search("I5_5")
	require.NoError(t, err)
	assert.Nil(t, postings)

	doc, err := r.Document("img-a")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, []string{"I0_-3", "I0_0"}, doc.Terms())
	v, ok := doc.Value("avg_y")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, v)

	doc, err = r.Document("img-z")
	require.NoError(t, err)
	assert.Nil(t, doc)

	entries := r.DocEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].TermCount)
	assert.Equal(t, 1, entries[1].TermCount)
}

func TestWriteRejectsEmptySegment(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write(nil, nil)
	assert.Error(t, err)
}

func TestOpenReaderRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTestSegment(t, dir)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	badMagic := append([]byte(nil), data...)
	badMagic[0] ^= 0xff
	badMagicPath := filepath.Join(dir, "bad_magic.spdx")
	require.NoError(t, os.WriteFile(badMagicPath, badMagic, 0o644))
	_, err = OpenReader(badMagicPath)
	assert.ErrorContains(t, err, "bad magic")

	badDict := append([]byte(nil), data...)
	r, err := OpenReader(path)
	require.NoError(t, err)
	badDict[r.header.DictOffset+1] ^= 0x01
	r.Close()
	badDictPath := filepath.Join(dir, "bad_dict.spdx")
	require.NoError(t, os.WriteFile(badDictPath, badDict, 0o644))
	_, err = OpenReader(badDictPath)
	assert.ErrorContains(t, err, "checksum")
}
