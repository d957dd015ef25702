package chunk

import (
	"strings"

	"github.com/folder-mcp/foldermcp/internal/content"
)

// chunkSheets chunks a workbook. Chunks respect sheet boundaries and always
// include the header row; within a sheet, rows are packed row-by-row up to
// the (doubled) token budget or MaxRowsPerChunk, whichever comes first.
//
// Row numbering is 1-based over the sheet including the header, so the
// header is row 1. The first chunk of a sheet covers row 1 onward; later
// chunks repeat the header in their content but their params cover only the
// data rows, which is why re-extraction omits the repeated header.
func (c *Chunker) chunkSheets(sheets []content.Sheet) []*Chunk {
	policy := c.policy.Dense()

	var chunks []*Chunk
	offset := 0

	for _, sheet := range sheets {
		if len(sheet.Rows) == 0 {
			continue
		}

		header := csvLine(sheet.Rows[0])
		headerTokens := EstimateTokens(header)
		endCol := sheetEndColumn(sheet)

		sheetStart := offset

		// Pack data rows.
		first := true
		rowIdx := 1
		for rowIdx < len(sheet.Rows) || first {
			startRow := rowIdx
			tokens := headerTokens
			rows := 0
			var lines []string
			lines = append(lines, header)

			for rowIdx < len(sheet.Rows) && rows < MaxRowsPerChunk {
				line := csvLine(sheet.Rows[rowIdx])
				lineTokens := EstimateTokens(line)
				if rows > 0 && tokens+lineTokens > policy.MaxTokens {
					break
				}
				lines = append(lines, line)
				tokens += lineTokens
				rows++
				rowIdx++
			}

			text := strings.Join(lines, "\n")
			params := ExcelParams{
				Sheet:    sheet.Name,
				StartRow: startRow + 1, // 1-based, first data row
				EndRow:   rowIdx,       // 1-based inclusive
				StartCol: "A",
				EndCol:   endCol,
			}
			if first {
				// The first chunk owns the header row as well.
				params.StartRow = 1
			}

			start := sheetStart
			if !first {
				start = offset
			}
			chunks = append(chunks, &Chunk{
				Content:     text,
				StartOffset: start,
				EndOffset:   start + len(text),
				Params:      params,
			})

			offset = start + len(text) + 1
			first = false

			if rowIdx >= len(sheet.Rows) {
				break
			}
		}
	}
	return chunks
}

// sheetEndColumn finds the widest row's last column letter.
func sheetEndColumn(sheet content.Sheet) string {
	max := 1
	for _, row := range sheet.Rows {
		if len(row) > max {
			max = len(row)
		}
	}
	return ColumnName(max - 1)
}

// csvLine renders a row as a comma-joined line.
func csvLine(cells []string) string {
	return strings.Join(cells, ",")
}
