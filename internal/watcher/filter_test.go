package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_SupportedExtensionsOnly(t *testing.T) {
	f := NewFilter(nil, nil)

	assert.True(t, f.ShouldIndex("report.pdf"))
	assert.True(t, f.ShouldIndex("docs/readme.md"))
	assert.True(t, f.ShouldIndex("sheets/budget.xlsx"))
	assert.False(t, f.ShouldIndex("binary.exe"))
	assert.False(t, f.ShouldIndex("image.png"))
	assert.False(t, f.ShouldIndex("main.go"))
}

func TestFilter_HiddenAndIndexArtifacts(t *testing.T) {
	f := NewFilter(nil, nil)

	assert.False(t, f.ShouldIndex(".hidden.txt"))
	assert.False(t, f.ShouldIndex(".folder-mcp/notes.txt"))
	assert.False(t, f.ShouldIndex("sub/.git/config.md"))
}

func TestFilter_ExcludePatterns(t *testing.T) {
	f := NewFilter(nil, []string{"drafts/**", "**/*.tmp.md"})

	assert.False(t, f.ShouldIndex("drafts/idea.txt"))
	assert.False(t, f.ShouldIndex("deep/nested/work.tmp.md"))
	assert.True(t, f.ShouldIndex("final/report.md"))
}

func TestFilter_IncludePatterns(t *testing.T) {
	f := NewFilter([]string{"docs/**"}, nil)

	assert.True(t, f.ShouldIndex("docs/guide.md"))
	assert.False(t, f.ShouldIndex("src/readme.md"))
}

func TestFilter_ExcludeWinsOverInclude(t *testing.T) {
	f := NewFilter([]string{"docs/**"}, []string{"docs/private/**"})

	assert.True(t, f.ShouldIndex("docs/public.md"))
	assert.False(t, f.ShouldIndex("docs/private/secret.md"))
}

func TestFilter_SkipDir(t *testing.T) {
	f := NewFilter(nil, nil)

	assert.False(t, f.SkipDir("."))
	assert.False(t, f.SkipDir("docs"))
	assert.True(t, f.SkipDir(".folder-mcp"))
	assert.True(t, f.SkipDir("sub/.git"))
	assert.True(t, f.SkipDir(".cache"))
}
