package content

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts page text from PDF files. Each visual row of text
// becomes one block, so extraction params can address block ranges.
type PDFParser struct{}

// Extensions implements Parser.
func (PDFParser) Extensions() []string { return []string{".pdf"} }

// Parse implements Parser.
func (PDFParser) Parse(_ context.Context, path string, data []byte) (doc *Document, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a pdf: %w", err)
	}

	pages := make([]Page, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, Page{})
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		var blocks []string
		for _, row := range rows {
			var b strings.Builder
			for _, word := range row.Content {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), " ") {
					b.WriteByte(' ')
				}
				b.WriteString(word.S)
			}
			if s := strings.TrimSpace(b.String()); s != "" {
				blocks = append(blocks, s)
			}
		}
		pages = append(pages, Page{Blocks: blocks})
	}
	return &Document{Path: path, Type: SourcePDF, Pages: pages}, nil
}
