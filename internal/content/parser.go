package content

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/folder-mcp/foldermcp/internal/errors"
)

// TextParser parses plain text files into line-addressed documents.
type TextParser struct{}

// Parse implements Parser.
func (TextParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	return &Document{
		Path:  path,
		Type:  SourceText,
		Lines: SplitLines(string(data)),
	}, nil
}

// Extensions implements Parser.
func (TextParser) Extensions() []string { return []string{".txt"} }

// MarkdownParser parses markdown files. The body stays line-addressed so
// extraction params can name exact line ranges; section headings are
// recovered by the chunker from the lines themselves.
type MarkdownParser struct{}

// Parse implements Parser.
func (MarkdownParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	return &Document{
		Path:  path,
		Type:  SourceMarkdown,
		Lines: SplitLines(string(data)),
	}, nil
}

// Extensions implements Parser.
func (MarkdownParser) Extensions() []string { return []string{".md"} }

// SplitLines splits text into lines without trailing newlines.
// A trailing newline does not produce a final empty line.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// Registry dispatches files to parsers and enforces per-type size caps and
// timeouts.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry with a parser for every supported
// extension.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(TextParser{})
	r.Register(MarkdownParser{})
	r.Register(PDFParser{})
	r.Register(WordParser{})
	r.Register(ExcelParser{})
	r.Register(PowerPointParser{})
	return r
}

// Register adds a parser for its extensions, replacing any previous one.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// CanParse reports whether a parser is registered for the path's extension.
func (r *Registry) CanParse(path string) bool {
	_, ok := r.parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Parse reads and parses the file at path, enforcing the format's size cap
// and timeout. Resource failures come back as skippable errors, parser
// rejections as corruption.
func (r *Registry) Parse(ctx context.Context, path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))

	lim, ok := LimitsFor(ext)
	if !ok {
		return nil, errors.New(errors.ErrCodeUnsupportedType, "unsupported file type: "+ext, nil)
	}
	parser, ok := r.parsers[ext]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnsupportedType, "no parser registered for "+ext, nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, "file not found: "+path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.New(errors.ErrCodePermissionDenied, "permission denied: "+path, err)
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	if info.Size() > lim.MaxBytes {
		return nil, errors.New(errors.ErrCodeFileTooLarge, "file exceeds size cap", nil).
			WithDetail("path", path).
			WithDetail("max_bytes", formatBytes(lim.MaxBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.New(errors.ErrCodePermissionDenied, "permission denied: "+path, err)
		}
		return nil, errors.New(errors.ErrCodeFileNotFound, "failed to read: "+path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, lim.Timeout)
	defer cancel()

	type result struct {
		doc *Document
		err error
	}
	ch := make(chan result, 1)
	go func() {
		doc, err := parser.Parse(ctx, path, data)
		ch <- result{doc, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.New(errors.ErrCodeParseTimeout, "parse timed out: "+path, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			// A parser refusing its own format means the file is damaged.
			return nil, errors.New(errors.ErrCodeCorruptFile, res.err.Error(), res.err)
		}
		return res.doc, nil
	}
}

func formatBytes(n int64) string {
	const unit = 1024 * 1024
	if n%unit == 0 {
		return strconv.FormatInt(n/unit, 10) + "MB"
	}
	return strconv.FormatInt(n, 10) + "B"
}
