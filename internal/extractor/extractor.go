// Package extractor turns raw uploaded bytes into plain text plus structural
// metadata. Dispatch is a closed table from MIME type to format strategy;
// every strategy returns the same Result shape, and failures are reported in
// Result.Error instead of being returned or panicking out of Extract.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/extractor/ocr"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/gabriel-vasile/mimetype"
)

// Format is one of the supported source formats.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatImage       Format = "image"
	FormatDOCX        Format = "docx"
	FormatPPTX        Format = "pptx"
	FormatXLSX        Format = "xlsx"
	FormatText        Format = "text"
	FormatODT         Format = "odt"
	FormatRTF         Format = "rtf"
	FormatUnsupported Format = "unsupported"
)

// Extraction methods recorded in Result.Method.
const (
	MethodPDFText     = "pdf-text"
	MethodOCR         = "OCR"
	MethodDOCX        = "docx-xml"
	MethodPPTX        = "pptx-xml"
	MethodXLSX        = "excelize"
	MethodDirect      = "direct-decoding"
	MethodCat         = "cat"
	MethodUnsupported = "unsupported"
)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var formats = map[string]Format{
	"application/pdf":                         FormatPDF,
	"image/jpeg":                              FormatImage,
	"image/png":                               FormatImage,
	"image/tiff":                              FormatImage,
	"image/bmp":                               FormatImage,
	"image/gif":                               FormatImage,
	mimeDOCX:                                  FormatDOCX,
	mimePPTX:                                  FormatPPTX,
	mimeXLSX:                                  FormatXLSX,
	"application/vnd.oasis.opendocument.text": FormatODT,
	"application/rtf":                         FormatRTF,
	"text/rtf":                                FormatRTF,
	"text/plain":                              FormatText,
	"text/csv":                                FormatText,
	"text/html":                               FormatText,
	"text/markdown":                           FormatText,
	"text/xml":                                FormatText,
	"application/json":                        FormatText,
	"application/xml":                         FormatText,
}

// FormatOf maps a MIME type, with or without parameters, to its format.
func FormatOf(mimeType string) Format {
	if f, ok := formats[normalizeMIME(mimeType)]; ok {
		return f
	}
	return FormatUnsupported
}

// SupportedMIMETypes lists every MIME type with a strategy.
func SupportedMIMETypes() []string {
	out := make([]string, 0, len(formats))
	for m := range formats {
		out = append(out, m)
	}
	return out
}

func normalizeMIME(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Result is the outcome of one extraction.
type Result struct {
	Text       string         `json:"text"`
	PageCount  int            `json:"page_count"`
	HasImages  bool           `json:"has_images"`
	Method     string         `json:"method"`
	OCRApplied bool           `json:"ocr_applied"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (r *Result) setAttr(key string, value any) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	r.Attributes[key] = value
}

type strategy func(ctx context.Context, content []byte) (Result, error)

// Extractor dispatches content to the strategy for its format.
type Extractor struct {
	cfg        config.ExtractorConfig
	ocr        ocr.Engine
	pdfText    PDFTextReader
	strategies map[Format]strategy
	logger     *slog.Logger
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithOCR sets the OCR engine. Without one, scanned input yields an error
// result instead of text.
func WithOCR(engine ocr.Engine) Option {
	return func(e *Extractor) { e.ocr = engine }
}

// WithPDFTextReader replaces the PDF text-layer reader.
func WithPDFTextReader(r PDFTextReader) Option {
	return func(e *Extractor) { e.pdfText = r }
}

func New(cfg config.ExtractorConfig, opts ...Option) *Extractor {
	e := &Extractor{
		cfg:     cfg,
		pdfText: textLayerReader{},
		logger:  slog.Default().With("component", "extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.strategies = map[Format]strategy{
		FormatPDF:   e.extractPDF,
		FormatImage: e.extractImage,
		FormatDOCX:  extractDOCX,
		FormatPPTX:  extractPPTX,
		FormatXLSX:  extractXLSX,
		FormatODT:   extractWithCat,
		FormatRTF:   extractWithCat,
		FormatText:  extractText,
	}
	return e
}

// Extract never returns an error: internal failures degrade to an empty
// text with Result.Error set.
func (e *Extractor) Extract(ctx context.Context, mimeType string, content []byte) Result {
	format := FormatOf(mimeType)
	var detected string
	if format == FormatUnsupported && isOpaque(mimeType) && len(content) > 0 {
		detected = normalizeMIME(mimetype.Detect(content).String())
		format = FormatOf(detected)
		e.logger.Debug("sniffed content type", "declared", mimeType, "detected", detected, "format", format)
	}

	run, ok := e.strategies[format]
	if !ok {
		return Result{
			Method: MethodUnsupported,
			Error:  fmt.Sprintf("unsupported mime type %q", mimeType),
		}
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	res, err := protect(ctx, format, run, content)
	if e.cfg.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		if err == nil && strings.TrimSpace(res.Text) == "" {
			err = ctx.Err()
		}
		if err != nil {
			err = fmt.Errorf("timed out after %s: %w", e.cfg.Timeout, err)
		}
	}
	if err != nil {
		e.logger.Warn("extraction failed", "format", format, "mime_type", mimeType, "error", err)
		res = Result{
			PageCount:  res.PageCount,
			HasImages:  res.HasImages,
			Method:     res.Method,
			TimedOut:   res.TimedOut,
			Error:      err.Error(),
			Attributes: res.Attributes,
		}
	}
	res.setAttr("format", string(format))
	if detected != "" {
		res.setAttr("detected_mime", detected)
	}
	return res
}

func protect(ctx context.Context, format Format, run strategy, content []byte) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s strategy panicked: %v", format, p)
		}
	}()
	return run(ctx, content)
}

func isOpaque(mimeType string) bool {
	mt := normalizeMIME(mimeType)
	return mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream"
}

// joinParts drops blank parts and joins the rest with blank lines so that
// paragraph boundaries survive into chunking.
func joinParts(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
