package chunk

import (
	"strings"

	"github.com/folder-mcp/foldermcp/internal/content"
	"github.com/folder-mcp/foldermcp/internal/errors"
)

// Chunker cuts typed documents into chunks with extraction params.
type Chunker struct {
	policy Policy
}

// NewChunker creates a chunker with the given policy.
func NewChunker(policy Policy) *Chunker {
	return &Chunker{policy: policy}
}

// NewDefaultChunker creates a chunker with the default policy.
func NewDefaultChunker() *Chunker {
	return NewChunker(DefaultPolicy())
}

// ChunkDocument cuts a document according to its source type. Dense formats
// (spreadsheets, presentations) run with both token bounds doubled.
func (c *Chunker) ChunkDocument(doc *content.Document) ([]*Chunk, error) {
	var chunks []*Chunk
	var err error

	switch doc.Type {
	case content.SourceText:
		chunks = c.chunkLines(doc.Lines, false)
	case content.SourceMarkdown:
		chunks = c.chunkLines(doc.Lines, true)
	case content.SourcePDF:
		chunks = c.chunkPDF(doc.Pages)
	case content.SourceExcel:
		chunks = c.chunkSheets(doc.Sheets)
	case content.SourcePowerPoint:
		chunks = c.chunkSlides(doc.Slides)
	case content.SourceWord:
		chunks = c.chunkParagraphs(doc.Paragraphs)
	default:
		err = errors.New(errors.ErrCodeInvalidInput, "unknown source type: "+string(doc.Type), nil)
	}
	if err != nil {
		return nil, err
	}

	finalize(chunks)
	return chunks, nil
}

// finalize stamps index, total, overlap flag, and semantics.
func finalize(chunks []*Chunk) {
	for i, ch := range chunks {
		ch.Index = i
		ch.Total = len(chunks)
		ch.HasOverlap = i > 0
		ch.TokenCount = EstimateTokens(ch.Content)
		ch.Semantics = Analyze(ch.Content)
	}
}

// paragraphSpan is a run of non-blank lines, 0-based inclusive.
type paragraphSpan struct {
	start, end int
	tokens     int
}

// chunkLines chunks line-addressed content (text, markdown). Chunks are
// whole-line ranges so extraction by line range is exact; the overlap tail
// is snapped to a sentence boundary and then to the start of its line.
func (c *Chunker) chunkLines(lines []string, markdown bool) []*Chunk {
	paras := splitParagraphs(lines)
	if len(paras) == 0 {
		return nil
	}

	offsets := lineOffsets(lines)

	spans := c.accumulate(paras, func(start, end int) int {
		// Overlap start line for the chunk covering lines start..end.
		return c.overlapStartLine(lines, offsets, start, end)
	})

	headings := markdownHeadings(lines)

	chunks := make([]*Chunk, 0, len(spans))
	for _, s := range spans {
		text := strings.Join(lines[s.start:s.end+1], "\n")
		ch := &Chunk{
			Content:     text,
			StartOffset: offsets[s.start],
			EndOffset:   offsets[s.end] + len(lines[s.end]),
		}
		if markdown {
			ch.Params = MarkdownParams{
				StartLine: s.start + 1,
				EndLine:   s.end + 1,
				Section:   sectionFor(headings, s.start),
			}
		} else {
			ch.Params = TextParams{StartLine: s.start + 1, EndLine: s.end + 1}
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

// span is a closed chunk in line units.
type span struct {
	start, end int
}

// accumulate greedily packs paragraphs into spans within the token budget.
// overlapFn returns the line where the next chunk's overlap tail begins, or
// -1 for no overlap.
func (c *Chunker) accumulate(paras []paragraphSpan, overlapFn func(start, end int) int) []span {
	var spans []span
	curStart := -1
	curEnd := 0
	curTokens := 0

	lineTokens := func(from, to int) int {
		t := 0
		for _, p := range paras {
			if p.end < from || p.start > to {
				continue
			}
			t += p.tokens
		}
		return t
	}

	for _, p := range paras {
		if curStart >= 0 && curTokens+p.tokens > c.policy.MaxTokens && curTokens >= c.policy.MinTokens {
			spans = append(spans, span{curStart, curEnd})

			next := -1
			if overlapFn != nil {
				next = overlapFn(curStart, curEnd)
			}
			if next >= 0 && next <= curEnd {
				curStart = next
				curTokens = lineTokens(next, curEnd)
			} else {
				curStart = -1
				curTokens = 0
			}
		}

		if curStart < 0 {
			curStart = p.start
		}
		curEnd = p.end
		curTokens += p.tokens
	}

	if curStart >= 0 {
		spans = append(spans, span{curStart, curEnd})
	}

	return c.mergeTrailing(spans, paras)
}

// mergeTrailing merges an undersized final span into its predecessor when
// the merge stays within MergeTolerance of the max token budget.
func (c *Chunker) mergeTrailing(spans []span, paras []paragraphSpan) []span {
	if len(spans) < 2 {
		return spans
	}
	last := spans[len(spans)-1]
	prev := spans[len(spans)-2]

	lastTokens := 0
	mergedTokens := 0
	for _, p := range paras {
		if p.start >= last.start && p.end <= last.end {
			lastTokens += p.tokens
		}
		if p.start >= prev.start && p.end <= last.end {
			mergedTokens += p.tokens
		}
	}

	if lastTokens >= c.policy.MinTokens {
		return spans
	}
	if float64(mergedTokens) > float64(c.policy.MaxTokens)*MergeTolerance {
		return spans
	}

	merged := span{prev.start, last.end}
	return append(spans[:len(spans)-2], merged)
}

// overlapStartLine picks the line where the overlap tail of the chunk
// covering lines start..end begins. Returns -1 when overlap is disabled or
// the tail would swallow the whole chunk.
func (c *Chunker) overlapStartLine(lines []string, offsets []int, start, end int) int {
	if c.policy.OverlapPercent <= 0 {
		return -1
	}

	chunkLen := offsets[end] + len(lines[end]) - offsets[start]
	desired := int(float64(chunkLen) * c.policy.OverlapPercent)
	if desired == 0 {
		return -1
	}

	// Walk backward from the end while the suffix still fits the budget.
	s := end + 1
	suffix := 0
	for i := end; i > start; i-- {
		suffix += len(lines[i]) + 1
		if suffix > desired {
			break
		}
		s = i
	}
	if s > end {
		return -1
	}

	// Snap forward to a sentence boundary: the overlap should begin right
	// after a line that ends a sentence.
	if c.policy.PreserveSentences {
		for s <= end && !endsSentence(lines[s-1]) {
			s++
		}
		if s > end {
			return -1
		}
	}
	return s
}

// endsSentence reports whether the line's last non-space rune terminates a
// sentence.
func endsSentence(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ':':
		return true
	}
	return false
}

// splitParagraphs finds runs of non-blank lines.
func splitParagraphs(lines []string) []paragraphSpan {
	var paras []paragraphSpan
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			if start >= 0 {
				paras = append(paras, makePara(lines, start, i-1))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		paras = append(paras, makePara(lines, start, len(lines)-1))
	}
	return paras
}

func makePara(lines []string, start, end int) paragraphSpan {
	text := strings.Join(lines[start:end+1], "\n")
	return paragraphSpan{start: start, end: end, tokens: EstimateTokens(text)}
}

// lineOffsets returns the byte offset of each line in the canonical
// newline-joined rendering.
func lineOffsets(lines []string) []int {
	offsets := make([]int, len(lines))
	off := 0
	for i, line := range lines {
		offsets[i] = off
		off += len(line) + 1
	}
	return offsets
}

// heading is a markdown section heading with its line index.
type heading struct {
	line  int
	title string
}

// markdownHeadings scans for ATX headings.
func markdownHeadings(lines []string) []heading {
	var hs []heading
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if title != "" {
			hs = append(hs, heading{line: i, title: title})
		}
	}
	return hs
}

// sectionFor returns the nearest heading at or before the given line.
func sectionFor(hs []heading, line int) string {
	section := ""
	for _, h := range hs {
		if h.line > line {
			break
		}
		section = h.title
	}
	return section
}
