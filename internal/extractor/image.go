package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

func (e *Extractor) extractImage(ctx context.Context, content []byte) (Result, error) {
	res := Result{
		PageCount: 1,
		HasImages: true,
		Method:    MethodOCR,
	}
	if cfg, kind, err := image.DecodeConfig(bytes.NewReader(content)); err == nil {
		res.setAttr("image_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		res.setAttr("image_format", kind)
	}
	if e.ocr == nil {
		return res, fmt.Errorf("ocr engine not configured")
	}
	text, err := e.ocr.ImageToText(ctx, content)
	if err != nil {
		return res, fmt.Errorf("image ocr: %w", err)
	}
	res.Text = text
	res.OCRApplied = true
	return res, nil
}
