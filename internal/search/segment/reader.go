package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/index"
)

type Reader struct {
	file     *os.File
	filePath string
	header   Header
	dict     []DictEntry
	stats    []index.ChunkStat
}

// OpenReader validates the header and checksums of the segment at path and
// loads its dictionary and chunk stats into memory. Postings stay on disk.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.filePath = path
	return r, nil
}

func load(f *os.File) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", magic)
	}
	header := Header{
		Magic:       magic,
		Version:     binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:   binary.LittleEndian.Uint32(headerBytes[8:12]),
		ChunkCount:  binary.LittleEndian.Uint32(headerBytes[12:16]),
		DictOffset:  int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictSize:    int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		PostOffset:  int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostSize:    int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		StatsOffset: int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
		StatsSize:   int64(binary.LittleEndian.Uint64(headerBytes[56:64])),
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.StatsOffset+header.StatsSize); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("dictionary checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	statsBytes := make([]byte, header.StatsSize)
	if _, err := f.ReadAt(statsBytes, header.StatsOffset); err != nil {
		return nil, fmt.Errorf("reading chunk stats: %w", err)
	}
	if crc32.ChecksumIEEE(statsBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, fmt.Errorf("chunk stats checksum mismatch")
	}
	var stats []index.ChunkStat
	if err := json.Unmarshal(statsBytes, &stats); err != nil {
		return nil, fmt.Errorf("parsing chunk stats: %w", err)
	}

	return &Reader{
		file:   f,
		header: header,
		dict:   dict,
		stats:  stats,
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
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// Stats returns the per-chunk lengths recorded when the segment was written.
func (r *Reader) Stats() []index.ChunkStat {
	return r.stats
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) ChunkCount() uint32 {
	return r.header.ChunkCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
