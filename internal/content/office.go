package content

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// WordParser parses .docx archives. Only the main document part is read;
// headers, footers, and tracked changes are out of scope.
type WordParser struct{}

// Extensions implements Parser.
func (WordParser) Extensions() []string { return []string{".docx"} }

// Parse implements Parser.
func (WordParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a docx archive: %w", err)
	}
	body, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	paras, err := parseWordParagraphs(body)
	if err != nil {
		return nil, err
	}
	return &Document{Path: path, Type: SourceWord, Paragraphs: paras}, nil
}

func parseWordParagraphs(body []byte) ([]Paragraph, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var paras []Paragraph
	var cur strings.Builder
	var style string
	inPara := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
				style = ""
			case "pStyle":
				style = attr(t, "val")
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, fmt.Errorf("malformed text run: %w", err)
				}
				cur.WriteString(s)
			case "tab":
				if inPara {
					cur.WriteByte('\t')
				}
			case "br":
				if inPara {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local != "p" || !inPara {
				continue
			}
			inPara = false
			text := strings.TrimSpace(cur.String())
			if text == "" {
				continue
			}
			paras = append(paras, Paragraph{
				Text:         text,
				Style:        styleName(style),
				HeadingLevel: headingLevel(style),
			})
		}
	}
	return paras, nil
}

// styleName expands OOXML style ids ("Heading1") to display names.
func styleName(id string) string {
	if id == "" {
		return "Normal"
	}
	if lvl := headingLevel(id); lvl > 0 {
		return "Heading " + strconv.Itoa(lvl)
	}
	return id
}

func headingLevel(id string) int {
	rest, ok := strings.CutPrefix(id, "Heading")
	if !ok {
		return 0
	}
	lvl, err := strconv.Atoi(rest)
	if err != nil || lvl < 1 || lvl > 9 {
		return 0
	}
	return lvl
}

// PowerPointParser parses .pptx archives: one Slide per slide part, with
// speaker notes pulled from the matching notes part.
type PowerPointParser struct{}

// Extensions implements Parser.
func (PowerPointParser) Extensions() []string { return []string{".pptx"} }

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Parse implements Parser.
func (PowerPointParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a pptx archive: %w", err)
	}

	type slidePart struct {
		num  int
		name string
	}
	var parts []slidePart
	for _, f := range zr.File {
		m := slidePartRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		parts = append(parts, slidePart{num: num, name: f.Name})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].num < parts[j].num })

	slides := make([]Slide, 0, len(parts))
	for _, part := range parts {
		body, err := readZipFile(zr, part.name)
		if err != nil {
			return nil, err
		}
		text, err := drawingText(body)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", part.num, err)
		}

		var notes string
		notesName := fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", part.num)
		if notesBody, err := readZipFile(zr, notesName); err == nil {
			notes, err = drawingText(notesBody)
			if err != nil {
				return nil, fmt.Errorf("notes for slide %d: %w", part.num, err)
			}
		}
		slides = append(slides, Slide{Text: text, Notes: notes})
	}
	return &Document{Path: path, Type: SourcePowerPoint, Slides: slides}, nil
}

// drawingText flattens DrawingML text: one line per <a:p> paragraph.
func drawingText(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var lines []string
	var cur strings.Builder
	inPara := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed slide xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("malformed text run: %w", err)
				}
				cur.WriteString(s)
			case "br":
				if inPara {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local != "p" || !inPara {
				continue
			}
			inPara = false
			if line := strings.TrimSpace(cur.String()); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("missing archive part %s: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
