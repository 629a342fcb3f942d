// Package ocr wraps the tesseract and pdftoppm command-line tools. Raw bytes
// are staged in a private temp directory, rasterized when they are a PDF,
// and recognised page by page.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"golang.org/x/sync/errgroup"
)

// Engine recognises text in raster content.
type Engine interface {
	ImageToText(ctx context.Context, image []byte) (string, error)
	PDFToText(ctx context.Context, pdf []byte) ([]string, error)
}

// Tesseract is an Engine backed by the tesseract and pdftoppm binaries.
type Tesseract struct {
	cfg    config.OCRConfig
	runner Runner
}

// New returns a Tesseract engine. A nil runner uses ExecRunner.
func New(cfg config.OCRConfig, runner Runner) *Tesseract {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 1
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

// ImageToText runs tesseract on a single image.
func (t *Tesseract) ImageToText(ctx context.Context, image []byte) (string, error) {
	dir, err := os.MkdirTemp("", "dp-ocr-*")
	if err != nil {
		return "", fmt.Errorf("creating ocr workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "image")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return "", fmt.Errorf("staging image: %w", err)
	}
	return t.recognise(ctx, path)
}

// PDFToText rasterizes every page at the configured DPI and returns the
// recognised text of each page in page order.
func (t *Tesseract) PDFToText(ctx context.Context, pdf []byte) ([]string, error) {
	dir, err := os.MkdirTemp("", "dp-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating ocr workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("staging pdf: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	args := []string{"-r", strconv.Itoa(t.cfg.DPI), "-png"}
	if t.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(t.cfg.MaxPages))
	}
	args = append(args, in, prefix)
	if _, errb, err := t.runner.Run(ctx, t.cfg.Pdftoppm, args...); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(errb)))
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("listing rendered pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	sortPages(pages)

	texts := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.PageConcurrency)
	for i, page := range pages {
		g.Go(func() error {
			pctx := gctx
			if t.cfg.PageTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, t.cfg.PageTimeout)
				defer cancel()
			}
			txt, err := t.recognise(pctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = txt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

func (t *Tesseract) recognise(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", t.cfg.Languages}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}

// sortPages orders pdftoppm output numerically; its zero padding depends on
// the page count.
func sortPages(pages []string) {
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".png")
		n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
		return n
	}
	sort.Slice(pages, func(i, j int) bool { return num(pages[i]) < num(pages[j]) })
}
