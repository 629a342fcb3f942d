package query

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Hit is one ranked chunk.
type Hit struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

type RankParams struct {
	TotalChunks    int64
	AvgChunkLength float64
}

// Rank scores every chunk appearing in postingsPerTerm with BM25 and
// returns the best limit hits (all when limit <= 0).
func Rank(
	postingsPerTerm map[string]index.PostingList,
	params RankParams,
	chunkLength func(docID string, chunk int) int,
	limit int,
) []Hit {
	scores := make(map[string]*Hit)
	for _, postings := range postingsPerTerm {
		idf := computeIDF(params.TotalChunks, int64(len(postings)))
		for _, posting := range postings {
			tfNorm := computeTFNorm(
				float64(posting.Frequency),
				float64(chunkLength(posting.DocID, posting.Chunk)),
				params.AvgChunkLength,
			)
			key := posting.Key()
			h, ok := scores[key]
			if !ok {
				h = &Hit{DocumentID: posting.DocID, ChunkIndex: posting.Chunk}
				scores[key] = h
			}
			h.Score += idf * tfNorm
		}
	}
	result := make([]Hit, 0, len(scores))
	for _, h := range scores {
		h.Score = math.Round(h.Score*10000) / 10000
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return better(result[i], result[j]) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// better orders hits by descending score, then document id and chunk.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.ChunkIndex < b.ChunkIndex
}

func computeIDF(total int64, freq int64) float64 {
	numerator := float64(total) - float64(freq)
	denominator := float64(freq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, length float64, avgLength float64) float64 {
	if avgLength == 0 {
		return 0
	}
	lengthRatio := length / avgLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
