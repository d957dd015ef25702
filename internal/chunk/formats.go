package chunk

import (
	"strings"

	"github.com/folder-mcp/foldermcp/internal/content"
)

// unit is an indivisible chunking element: a PDF text block, a word
// paragraph, a slide. Units are never split; overlap is applied in whole
// units.
type unit struct {
	text   string
	tokens int
}

// unitSpan is a packed chunk in unit indices, 0-based inclusive. A span
// may start before the previous span's end when overlap borrowed whole
// units from it.
type unitSpan struct {
	start, end int
}

// packUnits greedily accumulates units into spans within the token budget,
// seeding each subsequent span with a whole-unit overlap tail.
func (c *Chunker) packUnits(units []unit, policy Policy) []unitSpan {
	if len(units) == 0 {
		return nil
	}

	var spans []unitSpan
	curStart := -1
	curTokens := 0

	for i, u := range units {
		if curStart >= 0 && curTokens+u.tokens > policy.MaxTokens && curTokens >= policy.MinTokens {
			end := i - 1
			spans = append(spans, unitSpan{curStart, end})

			curStart = c.unitOverlapStart(units, curStart, end, policy)
			curTokens = 0
			for j := curStart; j <= end; j++ {
				curTokens += units[j].tokens
			}
			if curStart > end {
				curStart = -1
				curTokens = 0
			}
		}

		if curStart < 0 {
			curStart = i
		}
		curTokens += u.tokens
	}

	if curStart >= 0 {
		spans = append(spans, unitSpan{curStart, len(units) - 1})
	}

	// Merge an undersized trailing span into its predecessor.
	if len(spans) >= 2 {
		last := spans[len(spans)-1]
		prev := spans[len(spans)-2]
		lastTokens, mergedTokens := 0, 0
		for j := last.start; j <= last.end; j++ {
			lastTokens += units[j].tokens
		}
		for j := prev.start; j <= last.end; j++ {
			mergedTokens += units[j].tokens
		}
		if lastTokens < policy.MinTokens &&
			float64(mergedTokens) <= float64(policy.MaxTokens)*MergeTolerance {
			spans = append(spans[:len(spans)-2], unitSpan{prev.start, last.end})
		}
	}

	return spans
}

// unitOverlapStart picks the first unit of the overlap tail for the chunk
// covering units start..end. Returns end+1 for no overlap.
func (c *Chunker) unitOverlapStart(units []unit, start, end int, policy Policy) int {
	if policy.OverlapPercent <= 0 {
		return end + 1
	}
	chunkLen := 0
	for j := start; j <= end; j++ {
		chunkLen += len(units[j].text) + 2
	}
	desired := int(float64(chunkLen) * policy.OverlapPercent)

	s := end + 1
	suffix := 0
	for i := end; i > start; i-- {
		suffix += len(units[i].text) + 2
		if suffix > desired {
			break
		}
		s = i
	}
	return s
}

// chunkPDF chunks a PDF page by page; chunks never span pages. Each chunk
// covers a contiguous run of text blocks.
func (c *Chunker) chunkPDF(pages []content.Page) []*Chunk {
	var chunks []*Chunk
	offset := 0

	for pageIdx, page := range pages {
		units := make([]unit, len(page.Blocks))
		blockOffsets := make([]int, len(page.Blocks))
		for i, b := range page.Blocks {
			units[i] = unit{text: b, tokens: EstimateTokens(b)}
			blockOffsets[i] = offset
			offset += len(b) + 2
		}

		for _, s := range c.packUnits(units, c.policy) {
			texts := make([]string, 0, s.end-s.start+1)
			for j := s.start; j <= s.end; j++ {
				texts = append(texts, units[j].text)
			}
			text := strings.Join(texts, "\n\n")
			chunks = append(chunks, &Chunk{
				Content:     text,
				StartOffset: blockOffsets[s.start],
				EndOffset:   blockOffsets[s.start] + len(text),
				Params: PDFParams{
					Page:           pageIdx,
					StartTextBlock: s.start,
					EndTextBlock:   s.end,
				},
			})
		}
	}
	return chunks
}

// chunkParagraphs chunks word-processor content over whole paragraphs.
func (c *Chunker) chunkParagraphs(paras []content.Paragraph) []*Chunk {
	units := make([]unit, len(paras))
	paraOffsets := make([]int, len(paras))
	offset := 0
	for i, p := range paras {
		units[i] = unit{text: p.Text, tokens: EstimateTokens(p.Text)}
		paraOffsets[i] = offset
		offset += len(p.Text) + 2
	}

	var chunks []*Chunk
	for _, s := range c.packUnits(units, c.policy) {
		texts := make([]string, 0, s.end-s.start+1)
		types := make([]string, 0, s.end-s.start+1)
		headingLevel := 0
		for j := s.start; j <= s.end; j++ {
			texts = append(texts, paras[j].Text)
			if paras[j].Style != "" {
				types = append(types, paras[j].Style)
			}
			if paras[j].HeadingLevel > 0 && headingLevel == 0 {
				headingLevel = paras[j].HeadingLevel
			}
		}
		text := strings.Join(texts, "\n\n")

		params := WordParams{StartParagraph: s.start, EndParagraph: s.end}
		if len(types) > 0 {
			params.ParagraphTypes = dedupe(types)
		}
		if headingLevel > 0 {
			hl := headingLevel
			params.HeadingLevel = &hl
		}

		chunks = append(chunks, &Chunk{
			Content:     text,
			StartOffset: paraOffsets[s.start],
			EndOffset:   paraOffsets[s.start] + len(text),
			Params:      params,
		})
	}
	return chunks
}

// chunkSlides emits one chunk per slide, speaker notes included. Slides are
// a dense format; the doubled budget only matters if a slide ever needs to
// merge, which it does not, so the policy is applied by never splitting a
// slide.
func (c *Chunker) chunkSlides(slides []content.Slide) []*Chunk {
	var chunks []*Chunk
	offset := 0
	for i, slide := range slides {
		text := SlideText(slide, true)
		if strings.TrimSpace(text) == "" {
			offset += len(text) + 2
			continue
		}
		chunks = append(chunks, &Chunk{
			Content:     text,
			StartOffset: offset,
			EndOffset:   offset + len(text),
			Params: PowerPointParams{
				Slide:        i + 1,
				IncludeNotes: slide.Notes != "",
			},
		})
		offset += len(text) + 2
	}
	return chunks
}

// SlideText renders a slide's canonical text, optionally with notes.
func SlideText(slide content.Slide, includeNotes bool) string {
	if !includeNotes || slide.Notes == "" {
		return slide.Text
	}
	return slide.Text + "\n\nNotes: " + slide.Notes
}

func dedupe(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := ss[:0]
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
