// Package chunk cuts parsed documents into retrievable chunks and emits, for
// each chunk, a typed extraction-parameter record that lets any later process
// reconstruct exactly that span from the original source.
package chunk

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/folder-mcp/foldermcp/internal/content"
	"github.com/folder-mcp/foldermcp/internal/errors"
)

// ParamsVersion is the schema version written into every params record.
const ParamsVersion = 1

// Params names the exact source span a chunk was cut from. It is a closed
// set of variants, one per source type. The wire form is tagged JSON.
type Params interface {
	// SourceType returns the variant tag.
	SourceType() content.SourceType

	// Validate checks the variant's field invariants.
	Validate() error
}

// TextParams addresses a 1-based inclusive line range in a plain text file.
type TextParams struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

func (TextParams) SourceType() content.SourceType { return content.SourceText }

func (p TextParams) Validate() error {
	if p.StartLine < 1 || p.EndLine < p.StartLine {
		return paramsErr("text: invalid line range %d..%d", p.StartLine, p.EndLine)
	}
	return nil
}

// MarkdownParams addresses a 1-based inclusive line range, optionally naming
// the enclosing section heading.
type MarkdownParams struct {
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Section   string `json:"section,omitempty"`
}

func (MarkdownParams) SourceType() content.SourceType { return content.SourceMarkdown }

func (p MarkdownParams) Validate() error {
	if p.StartLine < 1 || p.EndLine < p.StartLine {
		return paramsErr("markdown: invalid line range %d..%d", p.StartLine, p.EndLine)
	}
	return nil
}

// PDFParams addresses a 0-based text-block range on a 0-based page, with an
// optional bounding box.
type PDFParams struct {
	Page           int      `json:"page"`
	StartTextBlock int      `json:"startTextBlock"`
	EndTextBlock   int      `json:"endTextBlock"`
	X              *float64 `json:"x,omitempty"`
	Y              *float64 `json:"y,omitempty"`
	Width          *float64 `json:"width,omitempty"`
	Height         *float64 `json:"height,omitempty"`
}

func (PDFParams) SourceType() content.SourceType { return content.SourcePDF }

func (p PDFParams) Validate() error {
	if p.Page < 0 {
		return paramsErr("pdf: negative page %d", p.Page)
	}
	if p.StartTextBlock < 0 || p.EndTextBlock < p.StartTextBlock {
		return paramsErr("pdf: invalid block range %d..%d", p.StartTextBlock, p.EndTextBlock)
	}
	return nil
}

// columnRe matches normalized spreadsheet column letters.
var columnRe = regexp.MustCompile(`^[A-Z]{1,3}$`)

// ExcelParams addresses a cell rectangle: 1-based inclusive rows and
// letter-addressed columns on a named sheet.
type ExcelParams struct {
	Sheet    string `json:"sheet"`
	StartRow int    `json:"startRow"`
	EndRow   int    `json:"endRow"`
	StartCol string `json:"startCol"`
	EndCol   string `json:"endCol"`
}

func (ExcelParams) SourceType() content.SourceType { return content.SourceExcel }

func (p ExcelParams) Validate() error {
	if p.Sheet == "" {
		return paramsErr("excel: empty sheet name")
	}
	if p.StartRow < 1 || p.EndRow < p.StartRow {
		return paramsErr("excel: invalid row range %d..%d", p.StartRow, p.EndRow)
	}
	start := strings.ToUpper(p.StartCol)
	end := strings.ToUpper(p.EndCol)
	if !columnRe.MatchString(start) || !columnRe.MatchString(end) {
		return paramsErr("excel: invalid column range %q..%q", p.StartCol, p.EndCol)
	}
	if ColumnIndex(end) < ColumnIndex(start) {
		return paramsErr("excel: column range %q..%q reversed", p.StartCol, p.EndCol)
	}
	return nil
}

// PowerPointParams addresses a 1-based slide, flagging whether speaker notes
// were included in the chunk.
type PowerPointParams struct {
	Slide           int  `json:"slide"`
	IncludeNotes    bool `json:"includeNotes"`
	IncludeComments bool `json:"includeComments,omitempty"`
}

func (PowerPointParams) SourceType() content.SourceType { return content.SourcePowerPoint }

func (p PowerPointParams) Validate() error {
	if p.Slide < 1 {
		return paramsErr("powerpoint: invalid slide %d", p.Slide)
	}
	return nil
}

// WordParams addresses a 0-based inclusive paragraph range.
type WordParams struct {
	StartParagraph  int      `json:"startParagraph"`
	EndParagraph    int      `json:"endParagraph"`
	ParagraphTypes  []string `json:"paragraphTypes,omitempty"`
	StartLineInPara *int     `json:"startLineInPara,omitempty"`
	EndLineInPara   *int     `json:"endLineInPara,omitempty"`
	HasFormatting   *bool    `json:"hasFormatting,omitempty"`
	HeadingLevel    *int     `json:"headingLevel,omitempty"`
}

func (WordParams) SourceType() content.SourceType { return content.SourceWord }

func (p WordParams) Validate() error {
	if p.StartParagraph < 0 || p.EndParagraph < p.StartParagraph {
		return paramsErr("word: invalid paragraph range %d..%d", p.StartParagraph, p.EndParagraph)
	}
	if p.HeadingLevel != nil && (*p.HeadingLevel < 1 || *p.HeadingLevel > 9) {
		return paramsErr("word: heading level %d outside 1..9", *p.HeadingLevel)
	}
	return nil
}

func paramsErr(format string, args ...any) error {
	return errors.New(errors.ErrCodeInvalidParams, fmt.Sprintf(format, args...), nil)
}

// ColumnIndex converts column letters to a 0-based index (A=0, Z=25, AA=26).
// The input must already match ^[A-Z]{1,3}$.
func ColumnIndex(col string) int {
	n := 0
	for _, c := range col {
		n = n*26 + int(c-'A') + 1
	}
	return n - 1
}

// ColumnName converts a 0-based index to column letters (0=A, 26=AA).
func ColumnName(idx int) string {
	idx++
	var b []byte
	for idx > 0 {
		idx--
		b = append([]byte{byte('A' + idx%26)}, b...)
		idx /= 26
	}
	return string(b)
}

// paramsEnvelope is the tagged JSON wire form.
type paramsEnvelope struct {
	Type    content.SourceType `json:"type"`
	Version int                `json:"version"`

	// Text / markdown
	StartLine *int    `json:"startLine,omitempty"`
	EndLine   *int    `json:"endLine,omitempty"`
	Section   *string `json:"section,omitempty"`

	// PDF
	Page           *int     `json:"page,omitempty"`
	StartTextBlock *int     `json:"startTextBlock,omitempty"`
	EndTextBlock   *int     `json:"endTextBlock,omitempty"`
	X              *float64 `json:"x,omitempty"`
	Y              *float64 `json:"y,omitempty"`
	Width          *float64 `json:"width,omitempty"`
	Height         *float64 `json:"height,omitempty"`

	// Excel
	Sheet    *string `json:"sheet,omitempty"`
	StartRow *int    `json:"startRow,omitempty"`
	EndRow   *int    `json:"endRow,omitempty"`
	StartCol *string `json:"startCol,omitempty"`
	EndCol   *string `json:"endCol,omitempty"`

	// PowerPoint
	Slide           *int  `json:"slide,omitempty"`
	IncludeNotes    *bool `json:"includeNotes,omitempty"`
	IncludeComments *bool `json:"includeComments,omitempty"`

	// Word
	StartParagraph  *int     `json:"startParagraph,omitempty"`
	EndParagraph    *int     `json:"endParagraph,omitempty"`
	ParagraphTypes  []string `json:"paragraphTypes,omitempty"`
	StartLineInPara *int     `json:"startLineInPara,omitempty"`
	EndLineInPara   *int     `json:"endLineInPara,omitempty"`
	HasFormatting   *bool    `json:"hasFormatting,omitempty"`
	HeadingLevel    *int     `json:"headingLevel,omitempty"`
}

// MarshalParams serializes params to the tagged JSON wire form.
func MarshalParams(p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	env := paramsEnvelope{Type: p.SourceType(), Version: ParamsVersion}

	switch v := p.(type) {
	case TextParams:
		env.StartLine, env.EndLine = &v.StartLine, &v.EndLine
	case MarkdownParams:
		env.StartLine, env.EndLine = &v.StartLine, &v.EndLine
		if v.Section != "" {
			env.Section = &v.Section
		}
	case PDFParams:
		env.Page = &v.Page
		env.StartTextBlock, env.EndTextBlock = &v.StartTextBlock, &v.EndTextBlock
		env.X, env.Y, env.Width, env.Height = v.X, v.Y, v.Width, v.Height
	case ExcelParams:
		sheet := v.Sheet
		start, end := strings.ToUpper(v.StartCol), strings.ToUpper(v.EndCol)
		env.Sheet = &sheet
		env.StartRow, env.EndRow = &v.StartRow, &v.EndRow
		env.StartCol, env.EndCol = &start, &end
	case PowerPointParams:
		env.Slide = &v.Slide
		env.IncludeNotes = &v.IncludeNotes
		if v.IncludeComments {
			env.IncludeComments = &v.IncludeComments
		}
	case WordParams:
		env.StartParagraph, env.EndParagraph = &v.StartParagraph, &v.EndParagraph
		env.ParagraphTypes = v.ParagraphTypes
		env.StartLineInPara, env.EndLineInPara = v.StartLineInPara, v.EndLineInPara
		env.HasFormatting = v.HasFormatting
		env.HeadingLevel = v.HeadingLevel
	default:
		return nil, paramsErr("unknown params variant %T", p)
	}

	return json.Marshal(env)
}

// UnmarshalParams parses the tagged JSON wire form back into the variant.
func UnmarshalParams(data []byte) (Params, error) {
	var env paramsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.New(errors.ErrCodeInvalidParams, "malformed extraction params", err)
	}

	var p Params
	switch env.Type {
	case content.SourceText:
		p = TextParams{StartLine: deref(env.StartLine), EndLine: deref(env.EndLine)}
	case content.SourceMarkdown:
		md := MarkdownParams{StartLine: deref(env.StartLine), EndLine: deref(env.EndLine)}
		if env.Section != nil {
			md.Section = *env.Section
		}
		p = md
	case content.SourcePDF:
		p = PDFParams{
			Page:           deref(env.Page),
			StartTextBlock: deref(env.StartTextBlock),
			EndTextBlock:   deref(env.EndTextBlock),
			X:              env.X, Y: env.Y, Width: env.Width, Height: env.Height,
		}
	case content.SourceExcel:
		xl := ExcelParams{StartRow: deref(env.StartRow), EndRow: deref(env.EndRow)}
		if env.Sheet != nil {
			xl.Sheet = *env.Sheet
		}
		if env.StartCol != nil {
			xl.StartCol = strings.ToUpper(*env.StartCol)
		}
		if env.EndCol != nil {
			xl.EndCol = strings.ToUpper(*env.EndCol)
		}
		p = xl
	case content.SourcePowerPoint:
		pp := PowerPointParams{Slide: deref(env.Slide)}
		if env.IncludeNotes != nil {
			pp.IncludeNotes = *env.IncludeNotes
		}
		if env.IncludeComments != nil {
			pp.IncludeComments = *env.IncludeComments
		}
		p = pp
	case content.SourceWord:
		p = WordParams{
			StartParagraph:  deref(env.StartParagraph),
			EndParagraph:    deref(env.EndParagraph),
			ParagraphTypes:  env.ParagraphTypes,
			StartLineInPara: env.StartLineInPara,
			EndLineInPara:   env.EndLineInPara,
			HasFormatting:   env.HasFormatting,
			HeadingLevel:    env.HeadingLevel,
		}
	default:
		return nil, paramsErr("unknown extraction params type %q", env.Type)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
