package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/index"
)

// Shard is the read side of a search engine.
type Shard interface {
	Search(term string) (index.PostingList, error)
	ChunkLength(docID string, chunk int) int
	AvgChunkLength() float64
	TotalChunks() int64
}

type Result struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Hits      []Hit          `json:"hits"`
	TermStats map[string]int `json:"term_stats,omitempty"`
}

type shardResult struct {
	shard       Shard
	postings    map[string]index.PostingList
	totalChunks int64
	avgLength   float64
}

// Executor runs plans against every shard and ranks chunks with global
// statistics so scores are comparable across shards.
type Executor struct {
	shards []Shard
	logger *slog.Logger
}

func NewExecutor(shards []Shard) *Executor {
	return &Executor{
		shards: shards,
		logger: slog.Default().With("component", "query-executor"),
	}
}

func (ex *Executor) Execute(ctx context.Context, plan *Plan, limit int) (*Result, error) {
	if len(plan.Terms) == 0 {
		return &Result{Query: plan.RawQuery, Hits: []Hit{}}, nil
	}
	results, err := ex.fanOut(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("shard fan-out: %w", err)
	}

	merged := make(map[string]index.PostingList)
	termStats := make(map[string]int)
	lengthOf := make(map[string]Shard)
	var totalChunks int64
	var totalTokens float64
	for _, sr := range results {
		totalChunks += sr.totalChunks
		totalTokens += sr.avgLength * float64(sr.totalChunks)
		for term, postings := range sr.postings {
			merged[term] = append(merged[term], postings...)
			termStats[term] += len(postings)
			for _, p := range postings {
				lengthOf[p.DocID] = sr.shard
			}
		}
	}
	var avgLength float64
	if totalChunks > 0 {
		avgLength = totalTokens / float64(totalChunks)
	}

	excluded := make(map[string]struct{})
	for _, term := range plan.ExcludeTerms {
		for _, p := range merged[term] {
			excluded[p.Key()] = struct{}{}
		}
	}

	wanted := make(map[string]index.PostingList, len(plan.Terms))
	for _, term := range plan.Terms {
		wanted[term] = merged[term]
	}
	var candidates map[string]struct{}
	if plan.Type == OR {
		candidates = union(wanted)
	} else {
		candidates = intersect(wanted)
	}
	for key := range excluded {
		delete(candidates, key)
	}

	filtered := make(map[string]index.PostingList)
	for term, postings := range wanted {
		keep := make(index.PostingList, 0, len(postings))
		for _, p := range postings {
			if _, ok := candidates[p.Key()]; ok {
				keep = append(keep, p)
			}
		}
		if len(keep) > 0 {
			filtered[term] = keep
		}
	}

	chunkLength := func(docID string, chunk int) int {
		if s, ok := lengthOf[docID]; ok {
			return s.ChunkLength(docID, chunk)
		}
		return 0
	}
	hits := Rank(filtered, RankParams{TotalChunks: totalChunks, AvgChunkLength: avgLength}, chunkLength, limit)
	ex.logger.Debug("query executed",
		"query", plan.RawQuery,
		"type", plan.Type.String(),
		"shards_queried", len(results),
		"candidates", len(candidates),
		"results", len(hits),
	)
	return &Result{
		Query:     plan.RawQuery,
		TotalHits: len(candidates),
		Hits:      hits,
		TermStats: termStats,
	}, nil
}

func (ex *Executor) fanOut(ctx context.Context, plan *Plan) ([]shardResult, error) {
	type outcome struct {
		sr  shardResult
		err error
	}
	terms := append(append([]string{}, plan.Terms...), plan.ExcludeTerms...)
	outcomes := make([]outcome, len(ex.shards))
	var wg sync.WaitGroup
	for i, s := range ex.shards {
		wg.Add(1)
		go func(idx int, s Shard) {
			defer wg.Done()
			sr := shardResult{
				shard:       s,
				postings:    make(map[string]index.PostingList),
				totalChunks: s.TotalChunks(),
				avgLength:   s.AvgChunkLength(),
			}
			for _, term := range terms {
				if err := ctx.Err(); err != nil {
					outcomes[idx] = outcome{err: err}
					return
				}
				postings, err := s.Search(term)
				if err != nil {
					outcomes[idx] = outcome{err: fmt.Errorf("shard %d, term %q: %w", idx, term, err)}
					return
				}
				if len(postings) > 0 {
					sr.postings[term] = postings
				}
			}
			outcomes[idx] = outcome{sr: sr}
		}(i, s)
	}
	wg.Wait()

	results := make([]shardResult, 0, len(ex.shards))
	for _, o := range outcomes {
		if o.err != nil {
			ex.logger.Error("shard query failed", "error", o.err)
			continue
		}
		results = append(results, o.sr)
	}
	if len(results) == 0 && len(ex.shards) > 0 {
		return nil, fmt.Errorf("all %d shards failed", len(ex.shards))
	}
	return results, nil
}

func intersect(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	var result map[string]struct{}
	for _, postings := range postingsPerTerm {
		keys := make(map[string]struct{}, len(postings))
		for _, p := range postings {
			keys[p.Key()] = struct{}{}
		}
		if result == nil {
			result = keys
			continue
		}
		for key := range result {
			if _, ok := keys[key]; !ok {
				delete(result, key)
			}
		}
	}
	if result == nil {
		result = make(map[string]struct{})
	}
	return result
}

func union(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	result := make(map[string]struct{})
	for _, postings := range postingsPerTerm {
		for _, p := range postings {
			result[p.Key()] = struct{}{}
		}
	}
	return result
}
