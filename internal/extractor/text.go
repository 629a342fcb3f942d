package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/lu4p/cat"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decoders are tried in order; the first that accepts the input wins.
var decoders = []struct {
	name   string
	decode func([]byte) (string, bool)
}{
	{"utf-8", func(b []byte) (string, bool) {
		return string(b), utf8.Valid(b)
	}},
	{"latin-1", charmapDecoder(charmap.ISO8859_1)},
	{"cp1252", charmapDecoder(charmap.Windows1252)},
	{"iso-8859-1", charmapDecoder(charmap.ISO8859_1)},
}

func charmapDecoder(cm *charmap.Charmap) func([]byte) (string, bool) {
	return func(b []byte) (string, bool) {
		out, err := decodeWith(cm.NewDecoder(), b)
		return out, err == nil
	}
}

func decodeWith(d *encoding.Decoder, b []byte) (string, error) {
	out, err := d.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractText(_ context.Context, content []byte) (Result, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	for _, d := range decoders {
		text, ok := d.decode(content)
		if !ok {
			continue
		}
		res := Result{
			Text:      text,
			PageCount: 1,
			Method:    MethodDirect,
		}
		res.setAttr("encoding", d.name)
		return res, nil
	}
	return Result{PageCount: 1, Method: MethodDirect}, fmt.Errorf("%w: could not decode text with supported encodings", apperrors.ErrExtraction)
}

// extractXLSX writes a "=== name ===" marker line per sheet followed by its
// non-blank rows, cells tab-joined.
func extractXLSX(_ context.Context, content []byte) (Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Result{Method: MethodXLSX}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var lines []string
	for _, sheet := range sheets {
		lines = append(lines, fmt.Sprintf("=== %s ===", sheet))
		rows, err := f.GetRows(sheet)
		if err != nil {
			return Result{Method: MethodXLSX, PageCount: len(sheets)}, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.Join(row, "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			lines = append(lines, line)
		}
	}
	res := Result{
		Text:      strings.Join(lines, "\n"),
		PageCount: len(sheets),
		Method:    MethodXLSX,
	}
	res.setAttr("sheet_count", len(sheets))
	return res, nil
}

// extractWithCat handles OpenDocument text and RTF.
func extractWithCat(_ context.Context, content []byte) (Result, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return Result{Method: MethodCat, PageCount: 1}, fmt.Errorf("%w: %v", apperrors.ErrExtraction, err)
	}
	return Result{
		Text:      text,
		PageCount: 1,
		Method:    MethodCat,
	}, nil
}
