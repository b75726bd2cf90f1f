package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
)

type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docDict  []DocEntry
	postBase int64
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", magic)
	}
	header := SegmentHeader{
		Magic:         magic,
		Version:       binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:     binary.LittleEndian.Uint32(headerBytes[8:12]),
		DocCount:      binary.LittleEndian.Uint32(headerBytes[12:16]),
		DictOffset:    int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictSize:      int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		PostOffset:    int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostSize:      int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		DocDictOffset: int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
		DocDictSize:   int64(binary.LittleEndian.Uint64(headerBytes[56:64])),
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	docDictBytes := make([]byte, header.DocDictSize)
	if _, err := f.ReadAt(docDictBytes, header.DocDictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading document dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DocDictOffset+header.DocDictSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	checksum := crc32.NewIEEE()
	checksum.Write(dictBytes)
	checksum.Write(docDictBytes)
	if want := binary.LittleEndian.Uint32(footer[0:4]); checksum.Sum32() != want {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	var docDict []DocEntry
	if err := json.Unmarshal(docDictBytes, &docDict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing document dictionary: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docDict:  docDict,
		postBase: header.PostOffset,
	}, nil
}

func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.postBase+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// Document loads the stored document with the given ID. It returns nil
// without error when the segment does not hold the document.
func (r *Reader) Document(docID string) (*index.Document, error) {
	idx := sort.Search(len(r.docDict), func(i int) bool {
		return r.docDict[i].DocID >= docID
	})
	if idx >= len(r.docDict) || r.docDict[idx].DocID != docID {
		return nil, nil
	}
	entry := r.docDict[idx]
	docBytes := make([]byte, entry.Len)
	if _, err := r.file.ReadAt(docBytes, entry.Offset); err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	doc := &index.Document{}
	if err := json.Unmarshal(docBytes, doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return doc, nil
}

// DocEntries returns the segment's document dictionary, sorted by ID.
func (r *Reader) DocEntries() []DocEntry {
	out := make([]DocEntry, len(r.docDict))
	copy(out, r.docDict)
	return out
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

// Name returns the segment's file name.
func (r *Reader) Name() string {
	return filepath.Base(r.filePath)
}

func (r *Reader) Close() error {
	return r.file.Close()
}
