// Package fusion merges independently ranked retrieval lists with weighted
// Reciprocal Rank Fusion.
package fusion

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// DefaultK is the RRF rank constant from the original RRF literature. It
// flattens the reciprocal curve for typical result-set sizes of 5-20.
const DefaultK = 60

// Source list names carried in FusedResult.AppearedIn.
const (
	SourceSemantic = "semantic"
	SourceKeyword  = "keyword"
)

// Document is one retrieved chunk entering fusion. SimilarityScore is set by
// the semantic backend, BM25Score by the keyword index; each list fills only
// its own score.
type Document struct {
	ID              string  `json:"doc_id,omitempty"`
	Content         string  `json:"content"`
	Technology      string  `json:"technology,omitempty"`
	SourceURL       string  `json:"source_url,omitempty"`
	SourceFile      string  `json:"source_file,omitempty"`
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	BM25Score       float64 `json:"bm25_score,omitempty"`
}

// FusedResult is one merged document with its accumulated RRF score and the
// per-list metadata retained from both appearances.
type FusedResult struct {
	Document

	RRFScore     float64  `json:"rrf_score"`
	SemanticRank int      `json:"semantic_rank,omitempty"`
	KeywordRank  int      `json:"keyword_rank,omitempty"`
	AppearedIn   []string `json:"appeared_in"`
}

// Fuser combines two ranked lists via weighted Reciprocal Rank Fusion. It is
// pure and deterministic: no I/O, same output for same inputs.
type Fuser struct {
	k int
}

// NewFuser creates a fuser with the given rank constant; k <= 0 selects
// DefaultK. Lower k gives more weight to top-ranked results.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultK
	}
	return &Fuser{k: k}
}

// K returns the rank constant.
func (f *Fuser) K() int { return f.k }

// Fuse merges semantic results (best first) and keyword results (best first)
// into one ranked list.
//
// Each document at rank r in a list with normalized weight w contributes
// w/(k+r) to its accumulated score. Weights are normalized to sum to 1;
// when both are zero they default to 0.5/0.5. Documents are identified by a
// hash of their full content text, so content appearing in both lists
// accumulates both contributions. Content-hash collisions merge distinct
// documents, an accepted approximation.
//
// The output is sorted by accumulated score descending. Ties keep insertion
// order: the semantic list is processed first, so at equal score a document
// first seen there outranks one first seen in the keyword list. The policy
// is arbitrary but fixed.
func (f *Fuser) Fuse(semanticResults, keywordResults []Document, semanticWeight, keywordWeight float64) []FusedResult {
	totalWeight := semanticWeight + keywordWeight
	if totalWeight > 0 {
		semanticWeight /= totalWeight
		keywordWeight /= totalWeight
	} else {
		semanticWeight = 0.5
		keywordWeight = 0.5
	}

	type accumulator struct {
		result FusedResult
		score  float64
		order  int // insertion order for stable tie-breaking
	}

	byContent := make(map[uint64]*accumulator, len(semanticResults)+len(keywordResults))
	order := make([]*accumulator, 0, len(semanticResults)+len(keywordResults))

	for i, doc := range semanticResults {
		rank := i + 1
		key := contentKey(doc.Content)
		acc, ok := byContent[key]
		if !ok {
			acc = &accumulator{
				result: FusedResult{Document: doc},
				order:  len(order),
			}
			byContent[key] = acc
			order = append(order, acc)
		}
		acc.score += semanticWeight / float64(f.k+rank)
		acc.result.SemanticRank = rank
		acc.result.SimilarityScore = doc.SimilarityScore
		acc.result.AppearedIn = appendSource(acc.result.AppearedIn, SourceSemantic)
	}

	for i, doc := range keywordResults {
		rank := i + 1
		key := contentKey(doc.Content)
		acc, ok := byContent[key]
		if !ok {
			acc = &accumulator{
				result: FusedResult{Document: doc},
				order:  len(order),
			}
			byContent[key] = acc
			order = append(order, acc)
		}
		acc.score += keywordWeight / float64(f.k+rank)
		acc.result.KeywordRank = rank
		acc.result.BM25Score = doc.BM25Score
		acc.result.AppearedIn = appendSource(acc.result.AppearedIn, SourceKeyword)
	}

	sort.SliceStable(order, func(a, b int) bool {
		if order[a].score != order[b].score {
			return order[a].score > order[b].score
		}
		return order[a].order < order[b].order
	})

	fused := make([]FusedResult, len(order))
	for i, acc := range order {
		acc.result.RRFScore = acc.score
		fused[i] = acc.result
	}
	return fused
}

// contentKey derives the merge identity of a document from its full text.
func contentKey(content string) uint64 {
	return xxhash.Sum64String(content)
}

func appendSource(sources []string, source string) []string {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}
