// Package search runs hybrid queries over a folder's indexes: keyword
// hits from bleve and semantic hits from the vector index, fused with
// Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/folder-mcp/foldermcp/internal/store"
)

// DefaultRRFConstant is the RRF smoothing parameter. k=60 is the widely
// validated default.
const DefaultRRFConstant = 60

// Weights sets the relative pull of each ranked list.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights favors semantic hits; documents are prose and most
// agent queries are natural language.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.35, Semantic: 0.65}
}

// Fused is one chunk after fusion. Ranks are 1-indexed, 0 when the
// chunk was absent from that list.
type Fused struct {
	ChunkID      string
	Score        float64
	KeywordScore float64
	KeywordRank  int
	VectorScore  float64
	VectorRank   int
	InBoth       bool
}

// Fusion merges ranked lists with RRF: score(d) = Σ weight_i / (k + rank_i).
type Fusion struct {
	K int
}

// NewFusion returns a fusion with the default k.
func NewFusion() *Fusion {
	return &Fusion{K: DefaultRRFConstant}
}

// NewFusionWithK returns a fusion with a custom k; k <= 0 falls back to
// the default.
func NewFusionWithK(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse combines keyword and vector results. A chunk missing from one
// list still receives that list's contribution at rank
// max(len(keyword), len(vector)) + 1, so single-list hits are penalized
// but not erased. Scores are normalized so the top result is 1.0.
func (f *Fusion) Fuse(keyword []*store.KeywordResult, vector []*store.VectorResult, w Weights) []*Fused {
	if len(keyword) == 0 && len(vector) == 0 {
		return []*Fused{}
	}

	scores := make(map[string]*Fused, len(keyword)+len(vector))
	get := func(id string) *Fused {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &Fused{ChunkID: id}
		scores[id] = r
		return r
	}

	for rank, r := range keyword {
		fr := get(r.ID)
		fr.KeywordScore = r.Score
		fr.KeywordRank = rank + 1
		fr.Score += w.Keyword / float64(f.K+rank+1)
	}
	for rank, r := range vector {
		fr := get(r.ID)
		fr.VectorScore = float64(r.Score)
		fr.VectorRank = rank + 1
		fr.Score += w.Semantic / float64(f.K+rank+1)
		if fr.KeywordRank > 0 {
			fr.InBoth = true
		}
	}

	missingRank := len(keyword) + 1
	if len(vector) >= len(keyword) {
		missingRank = len(vector) + 1
	}
	for _, r := range scores {
		if r.KeywordRank == 0 {
			r.Score += w.Keyword / float64(f.K+missingRank)
		}
		if r.VectorRank == 0 {
			r.Score += w.Semantic / float64(f.K+missingRank)
		}
	}

	results := make([]*Fused, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.ChunkID < b.ChunkID
	})

	if max := results[0].Score; max > 0 {
		for _, r := range results {
			r.Score /= max
		}
	}
	return results
}
