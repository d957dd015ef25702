package chunk

import (
	"fmt"
	"strings"

	"github.com/folder-mcp/foldermcp/internal/content"
	"github.com/folder-mcp/foldermcp/internal/errors"
)

// Extract returns the exact textual content the params address within the
// document. This is the inverse of chunking: for every chunk the chunker
// emits, extracting with the chunk's params reproduces the embedded content
// (spreadsheet chunks after the first per sheet omit the repeated header
// row, which lives outside their row range).
func Extract(doc *content.Document, p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if doc.Type != p.SourceType() {
		return "", extractErr("params type %q does not match document type %q",
			p.SourceType(), doc.Type)
	}

	switch v := p.(type) {
	case TextParams:
		return extractLines(doc.Lines, v.StartLine, v.EndLine)
	case MarkdownParams:
		return extractLines(doc.Lines, v.StartLine, v.EndLine)
	case PDFParams:
		return extractPDF(doc.Pages, v)
	case ExcelParams:
		return extractExcel(doc.Sheets, v)
	case PowerPointParams:
		return extractSlide(doc.Slides, v)
	case WordParams:
		return extractWord(doc.Paragraphs, v)
	default:
		return "", extractErr("unknown params variant %T", p)
	}
}

func extractLines(lines []string, startLine, endLine int) (string, error) {
	if endLine > len(lines) {
		return "", extractErr("line range %d..%d exceeds %d lines", startLine, endLine, len(lines))
	}
	return strings.Join(lines[startLine-1:endLine], "\n"), nil
}

func extractPDF(pages []content.Page, p PDFParams) (string, error) {
	if p.Page >= len(pages) {
		return "", extractErr("page %d exceeds %d pages", p.Page, len(pages))
	}
	blocks := pages[p.Page].Blocks
	if p.EndTextBlock >= len(blocks) {
		return "", extractErr("block range %d..%d exceeds %d blocks on page %d",
			p.StartTextBlock, p.EndTextBlock, len(blocks), p.Page)
	}
	return strings.Join(blocks[p.StartTextBlock:p.EndTextBlock+1], "\n\n"), nil
}

func extractExcel(sheets []content.Sheet, p ExcelParams) (string, error) {
	var sheet *content.Sheet
	for i := range sheets {
		if sheets[i].Name == p.Sheet {
			sheet = &sheets[i]
			break
		}
	}
	if sheet == nil {
		return "", extractErr("sheet %q not found", p.Sheet)
	}
	if p.EndRow > len(sheet.Rows) {
		return "", extractErr("row range %d..%d exceeds %d rows in sheet %q",
			p.StartRow, p.EndRow, len(sheet.Rows), p.Sheet)
	}

	startCol := ColumnIndex(strings.ToUpper(p.StartCol))
	endCol := ColumnIndex(strings.ToUpper(p.EndCol))

	lines := make([]string, 0, p.EndRow-p.StartRow+1)
	for r := p.StartRow - 1; r < p.EndRow; r++ {
		row := sheet.Rows[r]
		var cells []string
		for c := startCol; c <= endCol && c < len(row); c++ {
			cells = append(cells, row[c])
		}
		lines = append(lines, strings.Join(cells, ","))
	}
	return strings.Join(lines, "\n"), nil
}

func extractSlide(slides []content.Slide, p PowerPointParams) (string, error) {
	if p.Slide > len(slides) {
		return "", extractErr("slide %d exceeds %d slides", p.Slide, len(slides))
	}
	slide := slides[p.Slide-1]
	text := SlideText(slide, p.IncludeNotes)
	if p.IncludeComments && len(slide.Comments) > 0 {
		text += "\n\nComments: " + strings.Join(slide.Comments, "\n")
	}
	return text, nil
}

func extractWord(paras []content.Paragraph, p WordParams) (string, error) {
	if p.EndParagraph >= len(paras) {
		return "", extractErr("paragraph range %d..%d exceeds %d paragraphs",
			p.StartParagraph, p.EndParagraph, len(paras))
	}
	texts := make([]string, 0, p.EndParagraph-p.StartParagraph+1)
	for i := p.StartParagraph; i <= p.EndParagraph; i++ {
		texts = append(texts, paras[i].Text)
	}
	return strings.Join(texts, "\n\n"), nil
}

func extractErr(format string, args ...any) error {
	return errors.New(errors.ErrCodeInvalidParams, fmt.Sprintf(format, args...), nil)
}
