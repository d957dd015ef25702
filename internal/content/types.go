// Package content defines the typed document model that parsers produce
// and the chunker consumes, with one parser per supported format: plain
// text, markdown, PDF, and the OOXML office formats.
package content

import (
	"context"
	"strings"
	"time"
)

// SourceType identifies the format a document was parsed from.
type SourceType string

const (
	SourceText       SourceType = "text"
	SourceMarkdown   SourceType = "markdown"
	SourcePDF        SourceType = "pdf"
	SourceExcel      SourceType = "excel"
	SourcePowerPoint SourceType = "powerpoint"
	SourceWord       SourceType = "word"
)

// Document is parsed file content. Exactly one of the per-format fields is
// populated, matching Type.
type Document struct {
	// Path is the absolute path of the source file.
	Path string

	// Type is the source format.
	Type SourceType

	// Lines is the line-split body for text and markdown sources.
	Lines []string

	// Pages holds PDF pages, each a sequence of text blocks.
	Pages []Page

	// Sheets holds spreadsheet sheets.
	Sheets []Sheet

	// Slides holds presentation slides.
	Slides []Slide

	// Paragraphs holds word-processor paragraphs.
	Paragraphs []Paragraph
}

// Text flattens the document into plain text, whatever the source
// format. Sheets render as tab-separated rows, slides include their
// notes, and pages and paragraphs join with blank lines.
func (d *Document) Text() string {
	var b strings.Builder
	switch {
	case len(d.Lines) > 0:
		b.WriteString(strings.Join(d.Lines, "\n"))
	case len(d.Pages) > 0:
		for i, page := range d.Pages {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(strings.Join(page.Blocks, "\n"))
		}
	case len(d.Sheets) > 0:
		for i, sheet := range d.Sheets {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(sheet.Name)
			for _, row := range sheet.Rows {
				b.WriteString("\n")
				b.WriteString(strings.Join(row, "\t"))
			}
		}
	case len(d.Slides) > 0:
		for i, slide := range d.Slides {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(slide.Text)
			if slide.Notes != "" {
				b.WriteString("\n")
				b.WriteString(slide.Notes)
			}
		}
	case len(d.Paragraphs) > 0:
		for i, para := range d.Paragraphs {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(para.Text)
		}
	}
	return b.String()
}

// Page is a PDF page as a sequence of text blocks (0-based indices).
type Page struct {
	Blocks []string
}

// Sheet is a spreadsheet sheet. Rows[0] is the header row.
type Sheet struct {
	Name string
	Rows [][]string
}

// Slide is a presentation slide (1-based slide numbers on the wire).
type Slide struct {
	Text     string
	Notes    string
	Comments []string
}

// Paragraph is a word-processor paragraph (0-based indices on the wire).
type Paragraph struct {
	Text string
	// Style is the paragraph style name ("Normal", "Heading 1", ...).
	Style string
	// HeadingLevel is 1-9 for headings, 0 otherwise.
	HeadingLevel int
}

// Parser turns file bytes into a typed Document.
type Parser interface {
	// Parse parses the file at path with the given content.
	Parse(ctx context.Context, path string, data []byte) (*Document, error)

	// Extensions returns the file extensions this parser handles,
	// including the leading dot.
	Extensions() []string
}

// TypeLimits holds per-format processing limits.
type TypeLimits struct {
	MaxBytes int64
	Timeout  time.Duration
}

// limits per supported extension.
var limits = map[string]TypeLimits{
	".txt":  {MaxBytes: 10 << 20, Timeout: 5 * time.Second},
	".md":   {MaxBytes: 10 << 20, Timeout: 5 * time.Second},
	".pdf":  {MaxBytes: 50 << 20, Timeout: 30 * time.Second},
	".docx": {MaxBytes: 50 << 20, Timeout: 15 * time.Second},
	".xlsx": {MaxBytes: 100 << 20, Timeout: 30 * time.Second},
	".pptx": {MaxBytes: 100 << 20, Timeout: 30 * time.Second},
}

// SupportedExtensions returns the indexable file extensions.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx"}
}

// IsSupported reports whether the extension (with leading dot, any case
// already lowered by the caller) is indexable.
func IsSupported(ext string) bool {
	_, ok := limits[ext]
	return ok
}

// LimitsFor returns the processing limits for an extension.
// The second return is false for unsupported extensions.
func LimitsFor(ext string) (TypeLimits, bool) {
	l, ok := limits[ext]
	return l, ok
}

// TypeForExtension maps an extension to its source type.
func TypeForExtension(ext string) (SourceType, bool) {
	switch ext {
	case ".txt":
		return SourceText, true
	case ".md":
		return SourceMarkdown, true
	case ".pdf":
		return SourcePDF, true
	case ".xlsx":
		return SourceExcel, true
	case ".pptx":
		return SourcePowerPoint, true
	case ".docx":
		return SourceWord, true
	default:
		return "", false
	}
}
