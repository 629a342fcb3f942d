package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"google.golang.org/api/googleapi"
)

// GCS stores blobs as objects in a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	logger *slog.Logger
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("blob bucket is required for the gcs backend")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, apperrors.Infrastructure("creating storage client", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		logger: slog.Default().With("component", "blob-gcs", "bucket", bucket),
	}, nil
}

func (g *GCS) Get(ctx context.Context, location string) ([]byte, error) {
	r, err := g.bucket.Object(location).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, location)
	}
	if err != nil {
		return nil, apperrors.Infrastructure("opening object "+location, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Infrastructure("reading object "+location, err)
	}
	return data, nil
}

// Put only creates objects. Names embed the content hash, so an existing
// object already holds the same bytes and the 412 is ignored.
func (g *GCS) Put(ctx context.Context, location string, content []byte) error {
	w := g.bucket.Object(location).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return nil
		}
		return apperrors.Infrastructure("writing object "+location, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			g.logger.Debug("object already exists", "location", location)
			return nil
		}
		return apperrors.Infrastructure("finalizing object "+location, err)
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
