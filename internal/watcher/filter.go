package watcher

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/folder-mcp/foldermcp/internal/content"
	"github.com/folder-mcp/foldermcp/internal/store"
)

// Filter decides which paths inside a folder are candidates for indexing.
// Patterns use doublestar glob syntax against slash-separated paths
// relative to the folder root.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter builds a filter from include and exclude patterns. An empty
// include list admits every supported file.
func NewFilter(include, exclude []string) *Filter {
	return &Filter{include: include, exclude: exclude}
}

// ShouldIndex reports whether the relative path is an indexing candidate:
// a supported document type, not index-internal, not hidden, and allowed
// by the configured patterns.
func (f *Filter) ShouldIndex(relPath string) bool {
	rel := filepath.ToSlash(relPath)

	if !content.IsSupported(filepath.Ext(rel)) {
		return false
	}

	// Never index our own artifacts, and skip hidden files and anything
	// under a hidden directory (editors drop swap and lock files there).
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}

	for _, pattern := range f.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// SkipDir reports whether an entire directory subtree can be pruned from
// a walk or a recursive watch.
func (f *Filter) SkipDir(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	if rel == "." || rel == "" {
		return false
	}
	base := filepath.Base(rel)
	return base == store.IndexDirName || strings.HasPrefix(base, ".")
}
