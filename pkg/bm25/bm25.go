// Package bm25 provides a BM25-scored inverted keyword index over a document
// corpus, persistable to disk so queries never pay the rebuild cost.
package bm25

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/coderag/coderag/pkg/observability"
)

// ErrIndexNotReady is returned when search is invoked before a successful
// build or load. It is distinct from an empty result set: monitoring must be
// able to tell "no matches" from "index absent".
var ErrIndexNotReady = errors.New("bm25: index not ready, call Build or Load first")

// BM25 free parameters. Standard Okapi defaults.
const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// minTokenLength is exclusive: tokens of this length or shorter are dropped.
const minTokenLength = 2

// Document is one corpus entry: chunk text plus the metadata used for
// filtering and source attribution.
type Document struct {
	ID         string `json:"doc_id" msgpack:"doc_id"`
	Content    string `json:"content" msgpack:"content"`
	Technology string `json:"technology" msgpack:"technology"`
	SourceURL  string `json:"source_url" msgpack:"source_url"`
	SourceFile string `json:"source_file" msgpack:"source_file"`
}

// Result is one scored search hit.
type Result struct {
	DocID      string  `json:"doc_id"`
	Content    string  `json:"content"`
	BM25Score  float64 `json:"bm25_score"`
	Technology string  `json:"technology"`
	SourceURL  string  `json:"source_url"`
	SourceFile string  `json:"source_file"`
}

// Index is a BM25 keyword index. Build and Load are heavyweight batch
// operations intended to run after ingestion; Search is cheap and safe for
// concurrent use once the index is ready.
type Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	docs      []Document
	termFreqs []map[string]int
	docLens   []int
	docFreqs  map[string]int
	avgDocLen float64
	ready     bool

	logger observability.Logger
}

// NewIndex creates an empty index with standard BM25 parameters.
func NewIndex(logger observability.Logger) *Index {
	if logger == nil {
		logger = observability.NewLogger("bm25")
	}
	return &Index{
		k1:     defaultK1,
		b:      defaultB,
		logger: logger,
	}
}

// Tokenize lowercases text, splits it on non-alphanumeric boundaries, and
// drops tokens of length <= 2. The same rule applies to documents at build
// time and queries at search time.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > minTokenLength {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Build constructs the index from a full corpus, replacing any previous
// contents. It is intended to run after every ingestion pass, not per query.
func (idx *Index) Build(docs []Document) {
	termFreqs := make([]map[string]int, len(docs))
	docLens := make([]int, len(docs))
	docFreqs := make(map[string]int)
	totalLen := 0

	for i, doc := range docs {
		tokens := Tokenize(doc.Content)
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		for t := range freqs {
			docFreqs[t]++
		}
		termFreqs[i] = freqs
		docLens[i] = len(tokens)
		totalLen += len(tokens)
	}

	avg := 0.0
	if len(docs) > 0 {
		avg = float64(totalLen) / float64(len(docs))
	}

	idx.mu.Lock()
	idx.docs = docs
	idx.termFreqs = termFreqs
	idx.docLens = docLens
	idx.docFreqs = docFreqs
	idx.avgDocLen = avg
	idx.ready = true
	idx.mu.Unlock()

	idx.logger.Info("BM25 index built", map[string]interface{}{
		"documents": len(docs),
		"terms":     len(docFreqs),
	})
}

// Ready reports whether the index has been built or loaded.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores every document against the query, excludes zero scores,
// optionally keeps only documents whose technology metadata equals the
// filter, and returns the topK best scores in descending order.
//
// A query producing no tokens is not an error: it returns an empty list and
// logs the condition for observability.
func (idx *Index) Search(query string, topK int, technologyFilter string) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.ready {
		return nil, ErrIndexNotReady
	}
	if topK <= 0 {
		topK = 5
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		idx.logger.Warn("Query produced no tokens", map[string]interface{}{
			"query": query,
		})
		return []Result{}, nil
	}

	n := float64(len(idx.docs))
	results := make([]Result, 0, topK)

	for i, doc := range idx.docs {
		if technologyFilter != "" && doc.Technology != technologyFilter {
			continue
		}

		score := 0.0
		for _, t := range tokens {
			tf := idx.termFreqs[i][t]
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreqs[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - idx.b + idx.b*float64(idx.docLens[i])/idx.avgDocLen
			score += idf * float64(tf) * (idx.k1 + 1) / (float64(tf) + idx.k1*norm)
		}
		if score <= 0 {
			continue
		}

		results = append(results, Result{
			DocID:      doc.ID,
			Content:    doc.Content,
			BM25Score:  score,
			Technology: doc.Technology,
			SourceURL:  doc.SourceURL,
			SourceFile: doc.SourceFile,
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].BM25Score > results[b].BM25Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// snapshot is the persisted index layout: the computed statistics plus the
// corpus they were built from, loadable without re-tokenizing anything.
type snapshot struct {
	K1        float64          `msgpack:"k1"`
	B         float64          `msgpack:"b"`
	Docs      []Document       `msgpack:"docs"`
	TermFreqs []map[string]int `msgpack:"term_freqs"`
	DocLens   []int            `msgpack:"doc_lens"`
	DocFreqs  map[string]int   `msgpack:"doc_freqs"`
	AvgDocLen float64          `msgpack:"avg_doc_len"`
}

// Save serializes the built index to a single file.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.ready {
		return ErrIndexNotReady
	}

	data, err := msgpack.Marshal(snapshot{
		K1:        idx.k1,
		B:         idx.b,
		Docs:      idx.docs,
		TermFreqs: idx.termFreqs,
		DocLens:   idx.docLens,
		DocFreqs:  idx.docFreqs,
		AvgDocLen: idx.avgDocLen,
	})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}

	idx.logger.Info("BM25 index saved", map[string]interface{}{
		"path":      path,
		"documents": len(idx.docs),
		"bytes":     len(data),
	})
	return nil
}

// Load restores a previously saved index, replacing any current contents.
// Load failures propagate: they are operator-triggered and need visibility.
func (idx *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode index file: %w", err)
	}

	idx.mu.Lock()
	idx.k1 = snap.K1
	idx.b = snap.B
	idx.docs = snap.Docs
	idx.termFreqs = snap.TermFreqs
	idx.docLens = snap.DocLens
	idx.docFreqs = snap.DocFreqs
	idx.avgDocLen = snap.AvgDocLen
	idx.ready = true
	idx.mu.Unlock()

	idx.logger.Info("BM25 index loaded", map[string]interface{}{
		"path":      path,
		"documents": len(snap.Docs),
	})
	return nil
}
