package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// extractDOCX collects body paragraphs, then the text of every top-level
// table cell, from word/document.xml.
func extractDOCX(_ context.Context, content []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{Method: MethodDOCX}, fmt.Errorf("opening docx archive: %w", err)
	}
	data, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return Result{Method: MethodDOCX}, err
	}

	var (
		body, cellParas, cells []string
		cur                    strings.Builder
		inText                 bool
		tblDepth               int
		paragraphs, tables     int
		sections               int
		images                 bool
	)
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{Method: MethodDOCX}, fmt.Errorf("parsing document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					tables++
				}
			case "tc":
				if tblDepth == 1 {
					cellParas = cellParas[:0]
				}
			case "p":
				cur.Reset()
				if tblDepth == 0 {
					paragraphs++
				}
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			case "sectPr":
				sections++
			case "drawing", "pict":
				images = true
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if tblDepth == 0 {
					body = append(body, cur.String())
				} else {
					cellParas = append(cellParas, cur.String())
				}
			case "tc":
				if tblDepth == 1 {
					cells = append(cells, strings.Join(cellParas, "\n"))
				}
			case "tbl":
				tblDepth--
			}
		}
	}

	res := Result{
		Text:      joinParts(append(body, cells...)),
		PageCount: max(sections, 1),
		HasImages: images,
		Method:    MethodDOCX,
	}
	res.setAttr("paragraph_count", paragraphs)
	res.setAttr("table_count", tables)
	return res, nil
}

// extractPPTX collects the text of every shape on every slide, in slide
// order. Slides are treated as carrying visual content.
func extractPPTX(_ context.Context, content []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{Method: MethodPPTX, HasImages: true}, fmt.Errorf("opening pptx archive: %w", err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var parts []string
	for _, s := range slides {
		data, err := readEntry(s.file)
		if err != nil {
			return Result{Method: MethodPPTX, HasImages: true}, err
		}
		shapes, err := slideShapeTexts(data)
		if err != nil {
			return Result{Method: MethodPPTX, HasImages: true}, fmt.Errorf("parsing slide %d: %w", s.num, err)
		}
		parts = append(parts, shapes...)
	}

	res := Result{
		Text:      joinParts(parts),
		PageCount: len(slides),
		HasImages: true,
		Method:    MethodPPTX,
	}
	res.setAttr("slide_count", len(slides))
	return res, nil
}

// slideShapeTexts returns one string per shape, paragraphs joined by
// newlines.
func slideShapeTexts(data []byte) ([]string, error) {
	var (
		shapes  []string
		paras   []string
		cur     strings.Builder
		inShape int
		inText  bool
	)
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return shapes, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				inShape++
				if inShape == 1 {
					paras = paras[:0]
				}
			case "p":
				cur.Reset()
			case "t":
				inText = true
			case "br":
				cur.WriteByte('\n')
			}
		case xml.CharData:
			if inText && inShape > 0 {
				cur.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inShape > 0 {
					paras = append(paras, cur.String())
				}
			case "sp":
				inShape--
				if inShape == 0 {
					shapes = append(shapes, strings.Join(paras, "\n"))
				}
			}
		}
	}
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readEntry(f)
		}
	}
	return nil, fmt.Errorf("archive entry %s not found", name)
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return data, nil
}
