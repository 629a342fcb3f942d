package index

import "strconv"

// Posting records one term's occurrences in one chunk. Gen is the indexing
// generation of the owning document; postings from older generations are
// stale once the document is re-indexed.
type Posting struct {
	DocID     string `json:"d"`
	Chunk     int    `json:"c"`
	Gen       int64  `json:"g"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p"`
}

// Key identifies the chunk the posting belongs to.
func (p Posting) Key() string {
	return ChunkKey(p.DocID, p.Chunk)
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// ChunkStat carries per-chunk length used for BM25 length normalisation.
type ChunkStat struct {
	DocID  string `json:"d"`
	Chunk  int    `json:"c"`
	Gen    int64  `json:"g"`
	Length int    `json:"l"`
}

func (s ChunkStat) Key() string {
	return ChunkKey(s.DocID, s.Chunk)
}

// ChunkKey renders document_id#chunk_index.
func ChunkKey(docID string, chunk int) string {
	return docID + "#" + strconv.Itoa(chunk)
}
