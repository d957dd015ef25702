package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/store"
)

const (
	// DefaultLimit is the result count when the caller asks for none.
	DefaultLimit = 10

	// MaxLimit caps one query's result count.
	MaxLimit = 100

	// Timeout bounds one query end to end.
	Timeout = 5 * time.Second

	// overscanFactor is how many candidates each list contributes per
	// requested result, so fusion has room to reorder.
	overscanFactor = 3
)

// Options tunes one query.
type Options struct {
	Limit       int
	Weights     *Weights
	KeywordOnly bool
}

// Result is one ranked chunk with its fusion breakdown.
type Result struct {
	Chunk        *store.ChunkRecord
	Score        float64
	KeywordScore float64
	VectorScore  float64
	InBoth       bool
}

// Service answers hybrid queries for one folder's indexes. The caller
// supplies the embedder per query; routing it through the indexing
// queue is what keeps pause and keep-alive semantics intact.
type Service struct {
	store    *store.Store
	vectors  *store.VectorIndex
	keywords *store.KeywordIndex
	fusion   *Fusion
	logger   *slog.Logger
}

// NewService builds a search service over a folder's store and indexes.
func NewService(st *store.Store, vectors *store.VectorIndex, keywords *store.KeywordIndex, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		vectors:  vectors,
		keywords: keywords,
		fusion:   NewFusion(),
		logger:   logger,
	}
}

// Search runs the query against both indexes and fuses the results.
// A nil embedder degrades to keyword-only search.
func (s *Service) Search(ctx context.Context, query string, embedder model.Embedder, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty search query", nil)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	overscan := limit * overscanFactor

	keywordHits, err := s.keywords.Search(ctx, query, overscan)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "keyword search failed", err)
	}

	var vectorHits []*store.VectorResult
	if !opts.KeywordOnly && embedder != nil {
		vec, err := embedder.Embed(ctx, query)
		if err != nil {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed query", err)
		}
		vectorHits, err = s.vectors.Search(vec, overscan)
		if err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "vector search failed", err)
		}
	}

	fused := s.fusion.Fuse(keywordHits, vectorHits, weights)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	ids := make([]string, len(fused))
	byID := make(map[string]*Fused, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
		byID[f.ChunkID] = f
	}

	chunks, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "failed to load result chunks", err)
	}

	results := make([]Result, 0, len(chunks))
	for _, ch := range chunks {
		f := byID[ch.ID]
		results = append(results, Result{
			Chunk:        ch,
			Score:        f.Score,
			KeywordScore: f.KeywordScore,
			VectorScore:  f.VectorScore,
			InBoth:       f.InBoth,
		})
	}

	s.logger.Debug("search_done",
		slog.String("query", query),
		slog.Int("keyword_hits", len(keywordHits)),
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("results", len(results)))
	return results, nil
}
