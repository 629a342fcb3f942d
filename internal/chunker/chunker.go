// Package chunker splits extracted text into ordered, size-bounded word
// windows and checks the contiguity of persisted chunk sets.
package chunker

import (
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/google/uuid"
)

// Split folds whitespace runs to single spaces and returns windows of at
// most cfg.Size words, each starting cfg.Size-cfg.Overlap words after the
// previous one. With zero overlap the chunks joined by single spaces equal
// the folded text.
func Split(text string, cfg config.ChunkerConfig) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	size := cfg.Size
	if size <= 0 {
		size = len(words)
	}
	step := size - cfg.Overlap
	if step <= 0 {
		step = size
	}

	chunks := make([]string, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Build assigns ids and contiguous indices starting at 0.
func Build(documentID string, texts []string, now time.Time) []document.Chunk {
	chunks := make([]document.Chunk, len(texts))
	for i, txt := range texts {
		chunks[i] = document.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			ChunkIndex: i,
			Text:       txt,
			CreatedAt:  now,
		}
	}
	return chunks
}

// Verify checks that chunks belong to one document and carry indices
// 0..n-1 in slice order.
func Verify(documentID string, chunks []document.Chunk) error {
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, documentID)
		}
		if c.ChunkIndex != i {
			return fmt.Errorf("chunk at position %d has index %d", i, c.ChunkIndex)
		}
	}
	return nil
}

// Fold normalises whitespace the same way Split does.
func Fold(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
