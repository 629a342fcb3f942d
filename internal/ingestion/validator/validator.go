// Package validator checks upload requests before anything is stored and
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion"
)

const (
	maxFilenameLength = 255
	maxUploaderLength = 255
	// MaxContentSize bounds a single upload.
	MaxContentSize = 100 << 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// ValidateUpload checks the filename, uploader, MIME type and size. Types
// without an extraction strategy are rejected unless declared opaque, in
// which case the content is sniffed at transform time.
func ValidateUpload(req *ingestion.UploadRequest) error {
	errs := make(map[string]string)

	name := strings.TrimSpace(req.Filename)
	if name == "" {
		errs["filename"] = "filename is required"
	} else if len(name) > maxFilenameLength {
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxFilenameLength)
	}
	if len(req.UploadedBy) > maxUploaderLength {
		errs["uploaded_by"] = fmt.Sprintf("uploader must be at most %d characters", maxUploaderLength)
	}
	mt := strings.ToLower(strings.TrimSpace(req.MimeType))
	if mt != "" && mt != "application/octet-stream" && extractor.FormatOf(mt) == extractor.FormatUnsupported {
		errs["mime_type"] = fmt.Sprintf("unsupported mime type %q", req.MimeType)
	}
	switch {
	case len(req.Content) == 0:
		errs["content"] = "content must not be empty"
	case len(req.Content) > MaxContentSize:
		errs["content"] = fmt.Sprintf("content must be at most %d bytes", MaxContentSize)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
