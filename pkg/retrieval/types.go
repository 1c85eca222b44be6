package retrieval

import (
	"context"

	"github.com/coderag/coderag/pkg/bm25"
	"github.com/coderag/coderag/pkg/fusion"
)

// Metadata is the per-chunk metadata returned by the vector backend.
type Metadata struct {
	Technology string `json:"technology"`
	SourceURL  string `json:"source_url"`
	SourceFile string `json:"source_file"`
}

// VectorResults is the semantic backend's response shape: parallel arrays of
// document text, metadata, and distance scores (smaller distance = closer).
type VectorResults struct {
	Documents []string   `json:"documents"`
	Metadatas []Metadata `json:"metadatas"`
	Distances []float64  `json:"distances"`
}

// Embedder turns query text into a fixed-length vector. Implementations call
// an external embedding model; the core only consumes the contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs similarity search against the external vector store,
// optionally constrained to one technology tag.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, technologyFilter string) (VectorResults, error)
}

// KeywordSearcher produces the lexical ranking consumed by fusion.
// *bm25.Index satisfies it.
type KeywordSearcher interface {
	Search(query string, topK int, technologyFilter string) ([]bm25.Result, error)
}

// Request is one retrieval query.
type Request struct {
	Query            string  `json:"query"`
	TopK             int     `json:"top_k"`
	TechnologyFilter string  `json:"technology_filter,omitempty"`
	SemanticWeight   float64 `json:"semantic_weight,omitempty"`
	KeywordWeight    float64 `json:"keyword_weight,omitempty"`
}

// Response is the ranked answer to one query. Source records whether it was
// served from the response cache or assembled live.
type Response struct {
	Query            string               `json:"query"`
	TechnologyFilter string               `json:"technology_filter,omitempty"`
	TopK             int                  `json:"top_k"`
	Results          []fusion.FusedResult `json:"results"`
	Source           string               `json:"source"`
	ElapsedMS        float64              `json:"elapsed_ms"`
}

// Response sources.
const (
	SourceCache = "cache"
	SourceLive  = "live"
)
