// Package ingestion is the upload path that feeds the pipeline: it stores
// raw content, creates the PENDING document and announces it on the
// ingested channel. It also re-announces documents for operators.
package ingestion

import "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"

// UploadRequest is one file handed to the pipeline.
type UploadRequest struct {
	Filename       string
	MimeType       string
	UploadedBy     string
	Classification *string
	Content        []byte
}

// UploadResult reports the document the upload resolved to. Duplicate is
// set when the uploader had already sent identical content.
type UploadResult struct {
	DocumentID string          `json:"document_id"`
	Status     document.Status `json:"status"`
	Location   string          `json:"location"`
	Checksum   string          `json:"checksum"`
	Duplicate  bool            `json:"duplicate"`
}
