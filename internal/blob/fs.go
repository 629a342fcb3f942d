package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
)

// FS keeps blobs as files below a root directory.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("blob dir is required for the fs backend")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	return &FS{root: abs}, nil
}

func (f *FS) Get(_ context.Context, location string) ([]byte, error) {
	p, err := f.resolve(location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", location, err)
	}
	return data, nil
}

// Put writes to a temp file and renames it into place.
func (f *FS) Put(_ context.Context, location string, content []byte) error {
	p, err := f.resolve(location)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating blob parent: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing blob %s: %w", location, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("committing blob %s: %w", location, err)
	}
	return nil
}

func (f *FS) Close() error { return nil }

func (f *FS) resolve(location string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(location))
	if location == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid blob location %q", apperrors.ErrInvalidInput, location)
	}
	return filepath.Join(f.root, clean), nil
}
