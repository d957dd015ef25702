package content

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// ExcelParser parses .xlsx archives into sheets of string cells. Cell
// values are taken as stored; formulas contribute their cached results.
type ExcelParser struct{}

// Extensions implements Parser.
func (ExcelParser) Extensions() []string { return []string{".xlsx"} }

// Parse implements Parser.
func (ExcelParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not an xlsx archive: %w", err)
	}

	shared, err := sharedStrings(zr)
	if err != nil {
		return nil, err
	}
	refs, err := workbookSheets(zr)
	if err != nil {
		return nil, err
	}

	sheets := make([]Sheet, 0, len(refs))
	for _, ref := range refs {
		rows, err := sheetRows(zr, ref.target, shared)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", ref.name, err)
		}
		sheets = append(sheets, Sheet{Name: ref.name, Rows: rows})
	}
	return &Document{Path: path, Type: SourceExcel, Sheets: sheets}, nil
}

type sheetRef struct {
	name   string
	target string // archive path of the worksheet part
}

// workbookSheets resolves sheet order and names through the workbook's
// relationship part.
func workbookSheets(zr *zip.Reader) ([]sheetRef, error) {
	relBody, err := readZipFile(zr, "xl/_rels/workbook.xml.rels")
	if err != nil {
		return nil, err
	}
	var rels struct {
		Relationships []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(relBody, &rels); err != nil {
		return nil, fmt.Errorf("malformed workbook rels: %w", err)
	}
	targets := make(map[string]string, len(rels.Relationships))
	for _, r := range rels.Relationships {
		target := r.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join("xl", target)
		}
		targets[r.ID] = target
	}

	wbBody, err := readZipFile(zr, "xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	var wb struct {
		Sheets struct {
			Sheet []struct {
				Name string `xml:"name,attr"`
				RID  string `xml:"id,attr"`
			} `xml:"sheet"`
		} `xml:"sheets"`
	}
	if err := xml.Unmarshal(wbBody, &wb); err != nil {
		return nil, fmt.Errorf("malformed workbook.xml: %w", err)
	}

	refs := make([]sheetRef, 0, len(wb.Sheets.Sheet))
	for _, s := range wb.Sheets.Sheet {
		target, ok := targets[s.RID]
		if !ok {
			return nil, fmt.Errorf("sheet %q has no relationship target", s.Name)
		}
		refs = append(refs, sheetRef{name: s.Name, target: target})
	}
	return refs, nil
}

// sharedStrings loads the shared string table, absent in minimal files.
func sharedStrings(zr *zip.Reader) ([]string, error) {
	body, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var strs []string
	var cur strings.Builder
	inItem := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed sharedStrings.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				cur.Reset()
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, fmt.Errorf("malformed shared string: %w", err)
				}
				cur.WriteString(s)
			}
		case xml.EndElement:
			if t.Name.Local == "si" && inItem {
				inItem = false
				strs = append(strs, cur.String())
			}
		}
	}
	return strs, nil
}

type xlsxCell struct {
	Ref    string `xml:"r,attr"`
	Type   string `xml:"t,attr"`
	Value  string `xml:"v"`
	Inline string `xml:"is>t"`
}

type xlsxRow struct {
	Cells []xlsxCell `xml:"c"`
}

// sheetRows reads one worksheet part. Rows are dense: cell positions come
// from cell references, trailing empty cells are trimmed.
func sheetRows(zr *zip.Reader, target string, shared []string) ([][]string, error) {
	body, err := readZipFile(zr, target)
	if err != nil {
		return nil, err
	}
	var ws struct {
		Rows []xlsxRow `xml:"sheetData>row"`
	}
	if err := xml.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("malformed worksheet: %w", err)
	}

	rows := make([][]string, 0, len(ws.Rows))
	for _, r := range ws.Rows {
		var cells []string
		for i, c := range r.Cells {
			col := cellColumn(c.Ref, i)
			for len(cells) < col {
				cells = append(cells, "")
			}
			cells = append(cells, cellValue(c, shared))
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func cellValue(c xlsxCell, shared []string) string {
	switch c.Type {
	case "s":
		var idx int
		if _, err := fmt.Sscanf(c.Value, "%d", &idx); err == nil && idx >= 0 && idx < len(shared) {
			return shared[idx]
		}
		return ""
	case "inlineStr":
		return c.Inline
	default:
		return c.Value
	}
}

// cellColumn extracts the 0-based column from a cell reference like "B7".
// Fallback is the cell's position in the row.
func cellColumn(ref string, fallback int) int {
	letters := ref
	for i, r := range ref {
		if r >= '0' && r <= '9' {
			letters = ref[:i]
			break
		}
	}
	if letters == "" {
		return fallback
	}
	col := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return fallback
		}
		col = col*26 + int(r-'A') + 1
	}
	return col - 1
}
