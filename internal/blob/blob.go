// Package blob stores raw uploaded content addressed by the location string
// recorded on each document.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
)

// Store reads and writes raw content. Get returns an error wrapping
// ErrBlobNotFound when nothing is stored at location.
type Store interface {
	Get(ctx context.Context, location string) ([]byte, error)
	Put(ctx context.Context, location string, content []byte) error
	Close() error
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFS(cfg.Dir)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// ObjectName lays out uploads as <uploader>/<yyyy/mm/dd>/<sha256>_<filename>.
func ObjectName(uploadedBy, checksum, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	user := strings.ReplaceAll(uploadedBy, "/", "_")
	if user == "" || user == "." || user == ".." {
		user = "anonymous"
	}
	return path.Join(user, at.UTC().Format("2006/01/02"), checksum+"_"+name)
}
