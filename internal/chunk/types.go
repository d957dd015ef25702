package chunk

import (
	"math"
	"strings"
)

// Chunking policy defaults.
const (
	// DefaultMinTokens is the minimum tokens per chunk before it may close.
	DefaultMinTokens = 200

	// DefaultMaxTokens is the token budget a chunk must not exceed.
	DefaultMaxTokens = 500

	// DefaultOverlapPercent is the fraction of a chunk carried into the next
	// chunk as overlap tail.
	DefaultOverlapPercent = 0.10

	// MergeTolerance lets a trailing undersized chunk merge into its
	// predecessor as long as the merged chunk stays within this multiple of
	// the max token budget.
	MergeTolerance = 1.2

	// DenseFormatMultiplier doubles both token bounds for dense formats
	// (spreadsheets, presentations) where rows and bullets are short.
	DenseFormatMultiplier = 2

	// MaxRowsPerChunk caps spreadsheet chunks regardless of token budget.
	MaxRowsPerChunk = 50

	// TokensPerWord is the token-count estimate multiplier.
	TokensPerWord = 1.3
)

// Semantics is lightweight semantic metadata computed per chunk.
type Semantics struct {
	// KeyPhrases are the most salient repeated phrases in the chunk.
	KeyPhrases []string `json:"key_phrases,omitempty"`

	// Topics are coarse single-word topics.
	Topics []string `json:"topics,omitempty"`

	// Readability is a 0-100 ease score (higher is easier).
	Readability float64 `json:"readability"`
}

// Chunk is a contiguous textual span of a source document.
type Chunk struct {
	// Content is the chunk text that gets embedded.
	Content string

	// TokenCount is the estimated token count of Content.
	TokenCount int

	// StartOffset and EndOffset are byte offsets of Content within the
	// document's canonical text rendering.
	StartOffset int
	EndOffset   int

	// Index is this chunk's position; Total is the chunk count for the
	// source document.
	Index int
	Total int

	// HasOverlap is set on every chunk after the first.
	HasOverlap bool

	// Params name the exact source span this chunk was cut from.
	Params Params

	// Semantics is the chunk's semantic metadata.
	Semantics Semantics
}

// Policy holds the chunking parameters in effect for one document.
type Policy struct {
	MinTokens         int
	MaxTokens         int
	OverlapPercent    float64
	PreserveSentences bool
}

// DefaultPolicy returns the default chunking policy.
func DefaultPolicy() Policy {
	return Policy{
		MinTokens:         DefaultMinTokens,
		MaxTokens:         DefaultMaxTokens,
		OverlapPercent:    DefaultOverlapPercent,
		PreserveSentences: true,
	}
}

// Dense returns the policy with both token bounds doubled, for dense
// formats.
func (p Policy) Dense() Policy {
	p.MinTokens *= DenseFormatMultiplier
	p.MaxTokens *= DenseFormatMultiplier
	return p
}

// EstimateTokens estimates the token count of text as ceil(words * 1.3).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * TokensPerWord))
}
