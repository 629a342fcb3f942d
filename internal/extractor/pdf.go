package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/dslipak/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFTextReader returns the text layer of every page, in page order. Pages
// without extractable text are returned as empty strings.
type PDFTextReader interface {
	Pages(content []byte) ([]string, error)
}

type textLayerReader struct{}

func (textLayerReader) Pages(content []byte) (pages []string, err error) {
	// the pdf package panics on some malformed cross-reference tables
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reading pdf text layer: %v", p)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, txt)
	}
	return pages, nil
}

// pageCount reads the page tree with pdfcpu; used when the text-layer reader
// cannot open the file.
func pageCount(content []byte) int {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(content), conf)
	if err != nil {
		return 0
	}
	return n
}

func (e *Extractor) extractPDF(ctx context.Context, content []byte) (Result, error) {
	pages, err := e.pdfText.Pages(content)
	if err != nil {
		e.logger.Warn("pdf text layer unreadable, falling back to ocr", "error", err)
		res := Result{
			PageCount: max(pageCount(content), 1),
			HasImages: true,
			Method:    MethodOCR,
		}
		res.setAttr("ocr_reason", "text_layer_error")
		res.setAttr("text_layer_error", err.Error())
		texts, oerr := e.ocrPDF(ctx, content)
		if oerr != nil {
			return res, fmt.Errorf("%w: text layer: %v; ocr: %v", apperrors.ErrExtraction, err, oerr)
		}
		res.Text = joinParts(texts)
		res.OCRApplied = true
		res.PageCount = max(res.PageCount, len(texts))
		return res, nil
	}

	parts := make([]string, 0, len(pages))
	hasImages := false
	for _, p := range pages {
		if strings.TrimSpace(p) == "" {
			hasImages = true
			continue
		}
		parts = append(parts, p)
	}
	res := Result{
		Text:      joinParts(parts),
		PageCount: len(pages),
		HasImages: hasImages,
		Method:    MethodPDFText,
	}

	direct := utf8.RuneCountInString(strings.TrimSpace(strings.Join(parts, " ")))
	if direct >= e.cfg.OCR.MinTextChars {
		return res, nil
	}

	e.logger.Info("insufficient text layer, applying ocr",
		"chars", direct,
		"threshold", e.cfg.OCR.MinTextChars,
		"pages", len(pages),
	)
	res.setAttr("text_layer_chars", direct)
	texts, oerr := e.ocrPDF(ctx, content)
	if oerr != nil {
		res.setAttr("ocr_error", oerr.Error())
		if res.Text == "" {
			return res, fmt.Errorf("%w: no text layer and ocr failed: %v", apperrors.ErrExtraction, oerr)
		}
		return res, nil
	}
	res.Text = joinParts(append(parts, texts...))
	res.HasImages = true
	res.Method = MethodOCR
	res.OCRApplied = true
	res.setAttr("ocr_reason", "insufficient_text")
	return res, nil
}

func (e *Extractor) ocrPDF(ctx context.Context, content []byte) ([]string, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("ocr engine not configured")
	}
	return e.ocr.PDFToText(ctx, content)
}
