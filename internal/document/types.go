// Package document defines the pipeline's data model (documents, chunks and
// the channel payloads exchanged between stages) together with the status
// state machine every stage is bound by.
package document

import (
	"time"
)

// Metadata keys written by the stages.
const (
	MetaOCRApplied          = "ocr_applied"
	MetaExtraction          = "extraction"
	MetaIndexedAt           = "indexed_at"
	MetaIndexedChunks       = "indexed_chunks"
	MetaError               = "error"
	MetaErrorType           = "error_type"
	MetaFailedStage         = "failed_stage"
	MetaIndexationError     = "indexation_error"
	MetaIndexationErrorType = "indexation_error_type"
	MetaEmbeddingError      = "embedding_error"
)

// Document is one uploaded file tracked through the pipeline.
type Document struct {
	ID             string
	Filename       string
	MimeType       string
	FileSize       int64
	Location       string
	Checksum       string
	UploadedBy     string
	Classification *string
	Status         Status
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Metadata is the open scratchpad stages record their outcomes in.
type Metadata map[string]any

// Set assigns key, allocating the map on first use.
func (d *Document) Set(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(Metadata)
	}
	d.Metadata[key] = value
}

// Unset removes key if present.
func (d *Document) Unset(keys ...string) {
	for _, k := range keys {
		delete(d.Metadata, k)
	}
}

// String returns the metadata value for key when it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Clone returns a deep enough copy for handing a document across the store
// boundary: the metadata map is copied, nested values are shared.
func (d *Document) Clone() *Document {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(Metadata, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.Classification != nil {
		cl := *d.Classification
		c.Classification = &cl
	}
	return &c
}

// Chunk is one ordered slice of a document's extracted text.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// IngestedEvent is published on document.ingested by the upload path.
type IngestedEvent struct {
	DocumentID string `json:"document_id"`
}

// TransformEvent is published on document.to_transform by the ingest stage.
type TransformEvent struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	FileSize   int64  `json:"file_size"`
	UploadedBy string `json:"uploaded_by"`
}

// IndexEvent is published on document.to_index by the transform stage.
type IndexEvent struct {
	DocumentID string `json:"document_id"`
}
