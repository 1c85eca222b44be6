// Package retrieval implements the hybrid RAG query flow: tiered caching in
// front of parallel semantic and keyword search, merged with weighted
// Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coderag/coderag/pkg/cache"
	"github.com/coderag/coderag/pkg/fusion"
	"github.com/coderag/coderag/pkg/observability"
)

// Engine defaults.
const (
	DefaultTopK           = 5
	DefaultSemanticWeight = 0.6
	DefaultKeywordWeight  = 0.4
)

// EngineConfig tunes the query flow.
type EngineConfig struct {
	// TopK is the default result count when a request leaves it unset.
	TopK int `json:"top_k" mapstructure:"top_k"`
	// SemanticWeight and KeywordWeight are the default fusion weights when a
	// request leaves them unset. They are normalized before use.
	SemanticWeight float64 `json:"semantic_weight" mapstructure:"semantic_weight"`
	KeywordWeight  float64 `json:"keyword_weight" mapstructure:"keyword_weight"`
	// RRFConstant is the rank constant passed to the fuser.
	RRFConstant int `json:"rrf_constant" mapstructure:"rrf_constant"`
}

// DefaultEngineConfig returns the standard hybrid-search configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TopK:           DefaultTopK,
		SemanticWeight: DefaultSemanticWeight,
		KeywordWeight:  DefaultKeywordWeight,
		RRFConstant:    fusion.DefaultK,
	}
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithWarmer attaches a cache warmer; the engine then tracks query frequency
// on every request so popular queries can be pre-warmed.
func WithWarmer(w *cache.Warmer) EngineOption {
	return func(e *Engine) { e.warmer = w }
}

// WithMetrics sets the metrics client.
func WithMetrics(m observability.MetricsClient) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// Engine orchestrates one query: response cache, embedding cache, parallel
// vector + keyword retrieval, rank fusion, response assembly. All
// collaborators are injected at construction; the engine owns no global
// state and is safe for concurrent use.
//
// A degraded cache is invisible here: every cache miss path falls through to
// live retrieval, so callers see correct results either way.
type Engine struct {
	cache    *cache.TieredCache
	embedder Embedder
	vector   VectorSearcher
	keyword  KeywordSearcher
	fuser    *fusion.Fuser
	warmer   *cache.Warmer
	config   EngineConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewEngine creates a query engine. The cache, embedder, vector searcher,
// and keyword searcher are required.
func NewEngine(
	tiered *cache.TieredCache,
	embedder Embedder,
	vector VectorSearcher,
	keyword KeywordSearcher,
	config EngineConfig,
	logger observability.Logger,
	opts ...EngineOption,
) (*Engine, error) {
	if tiered == nil {
		return nil, fmt.Errorf("tiered cache is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if vector == nil {
		return nil, fmt.Errorf("vector searcher is required")
	}
	if keyword == nil {
		return nil, fmt.Errorf("keyword searcher is required")
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.SemanticWeight <= 0 && config.KeywordWeight <= 0 {
		config.SemanticWeight = DefaultSemanticWeight
		config.KeywordWeight = DefaultKeywordWeight
	}
	if logger == nil {
		logger = observability.NewLogger("retrieval.engine")
	}

	e := &Engine{
		cache:    tiered,
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		fuser:    fusion.NewFuser(config.RRFConstant),
		config:   config,
		logger:   logger,
		metrics:  observability.NewMetricsClient(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Query answers one retrieval request. It always returns a ranked (possibly
// empty) result list or an explicit error; cache state never changes the
// outcome, only the latency.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.query")
	defer span.End()

	start := time.Now()
	req = e.applyDefaults(req)
	span.SetAttribute("top_k", req.TopK)
	if req.TechnologyFilter != "" {
		span.SetAttribute("technology_filter", req.TechnologyFilter)
	}

	if e.warmer != nil {
		e.warmer.TrackQuery(ctx, req.Query, req.TechnologyFilter)
	}

	// Level 3 first: a response hit skips everything else.
	var resp Response
	if e.cache.GetResponse(ctx, req.Query, req.TechnologyFilter, req.TopK, &resp) {
		resp.Source = SourceCache
		resp.ElapsedMS = elapsedMS(start)
		e.metrics.IncrementCounterWithLabels("query.served", 1, map[string]string{"source": SourceCache})
		return &resp, nil
	}

	vector, err := e.queryEmbedding(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	results, err := e.retrieve(ctx, req, vector)
	if err != nil {
		return nil, err
	}

	resp = Response{
		Query:            req.Query,
		TechnologyFilter: req.TechnologyFilter,
		TopK:             req.TopK,
		Results:          results,
		Source:           SourceLive,
	}
	e.cache.PutResponse(ctx, req.Query, req.TechnologyFilter, req.TopK, resp)

	resp.ElapsedMS = elapsedMS(start)
	e.metrics.IncrementCounterWithLabels("query.served", 1, map[string]string{"source": SourceLive})
	return &resp, nil
}

// WarmCache replays the n most popular tracked queries through the engine so
// their responses are cached before real traffic arrives. Requires a warmer.
func (e *Engine) WarmCache(ctx context.Context, n int) error {
	if e.warmer == nil {
		return fmt.Errorf("no warmer configured")
	}
	return e.warmer.Warm(ctx, n, func(ctx context.Context, query, technologyFilter string) error {
		_, err := e.Query(ctx, Request{Query: query, TechnologyFilter: technologyFilter})
		return err
	})
}

// queryEmbedding resolves the query vector: embedding cache first, then the
// external model.
func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if vector, ok := e.cache.GetEmbedding(ctx, query); ok {
		return vector, nil
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	e.cache.PutEmbedding(ctx, query, vector)
	return vector, nil
}

// retrieve resolves the fused result set: retrieval cache first, then
// parallel semantic and keyword search merged with RRF.
func (e *Engine) retrieve(ctx context.Context, req Request, vector []float32) ([]fusion.FusedResult, error) {
	var cached []fusion.FusedResult
	if e.cache.GetRetrieval(ctx, vector, req.TechnologyFilter, &cached) {
		return cached, nil
	}

	var semanticDocs, keywordDocs []fusion.Document

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := e.semanticSearch(gctx, vector, req.TopK, req.TechnologyFilter)
		if err != nil {
			return fmt.Errorf("semantic search: %w", err)
		}
		semanticDocs = docs
		return nil
	})
	g.Go(func() error {
		results, err := e.keyword.Search(req.Query, req.TopK, req.TechnologyFilter)
		if err != nil {
			return fmt.Errorf("keyword search: %w", err)
		}
		keywordDocs = make([]fusion.Document, len(results))
		for i, r := range results {
			keywordDocs[i] = fusion.Document{
				ID:         r.DocID,
				Content:    r.Content,
				Technology: r.Technology,
				SourceURL:  r.SourceURL,
				SourceFile: r.SourceFile,
				BM25Score:  r.BM25Score,
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := e.fuser.Fuse(semanticDocs, keywordDocs, req.SemanticWeight, req.KeywordWeight)
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}

	e.cache.PutRetrieval(ctx, vector, req.TechnologyFilter, fused)
	return fused, nil
}

// semanticSearch queries the vector backend. A filtered search that comes
// back empty is retried unfiltered for broader coverage.
func (e *Engine) semanticSearch(ctx context.Context, vector []float32, topK int, technologyFilter string) ([]fusion.Document, error) {
	vr, err := e.vector.Search(ctx, vector, topK, technologyFilter)
	if err != nil {
		return nil, err
	}

	if technologyFilter != "" && len(vr.Documents) == 0 {
		e.logger.Debug("Filtered vector search empty, retrying unfiltered", map[string]interface{}{
			"technology_filter": technologyFilter,
		})
		vr, err = e.vector.Search(ctx, vector, topK, "")
		if err != nil {
			return nil, err
		}
	}

	docs := make([]fusion.Document, len(vr.Documents))
	for i, content := range vr.Documents {
		doc := fusion.Document{Content: content}
		if i < len(vr.Metadatas) {
			doc.Technology = vr.Metadatas[i].Technology
			doc.SourceURL = vr.Metadatas[i].SourceURL
			doc.SourceFile = vr.Metadatas[i].SourceFile
		}
		if i < len(vr.Distances) {
			doc.SimilarityScore = 1 - vr.Distances[i]
		}
		docs[i] = doc
	}
	return docs, nil
}

func (e *Engine) applyDefaults(req Request) Request {
	if req.TopK <= 0 {
		req.TopK = e.config.TopK
	}
	if req.SemanticWeight <= 0 && req.KeywordWeight <= 0 {
		req.SemanticWeight = e.config.SemanticWeight
		req.KeywordWeight = e.config.KeywordWeight
	}
	return req
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
