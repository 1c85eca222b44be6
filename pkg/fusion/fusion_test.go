package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseWeightedScoring(t *testing.T) {
	semantic := []Document{
		{Content: "doc A", SimilarityScore: 0.9},
		{Content: "doc B", SimilarityScore: 0.8},
	}
	keyword := []Document{
		{Content: "doc B", BM25Score: 10},
		{Content: "doc C", BM25Score: 5},
	}

	fused := NewFuser(60).Fuse(semantic, keyword, 0.6, 0.4)
	require.Len(t, fused, 3)

	// B appears in both lists and accumulates both contributions:
	// 0.6/(60+2) + 0.4/(60+1).
	assert.Equal(t, "doc B", fused[0].Content)
	assert.InDelta(t, 0.6/62+0.4/61, fused[0].RRFScore, 1e-9)
	assert.Equal(t, 2, fused[0].SemanticRank)
	assert.Equal(t, 1, fused[0].KeywordRank)
	assert.ElementsMatch(t, []string{SourceSemantic, SourceKeyword}, fused[0].AppearedIn)
	assert.InDelta(t, 0.8, fused[0].SimilarityScore, 1e-9)
	assert.InDelta(t, 10.0, fused[0].BM25Score, 1e-9)

	assert.Equal(t, "doc A", fused[1].Content)
	assert.InDelta(t, 0.6/61, fused[1].RRFScore, 1e-9)
	assert.Equal(t, []string{SourceSemantic}, fused[1].AppearedIn)
	assert.Zero(t, fused[1].KeywordRank)

	assert.Equal(t, "doc C", fused[2].Content)
	assert.InDelta(t, 0.4/62, fused[2].RRFScore, 1e-9)
	assert.Equal(t, []string{SourceKeyword}, fused[2].AppearedIn)
	assert.Zero(t, fused[2].SemanticRank)
}

func TestFuseWeightNormalization(t *testing.T) {
	semantic := []Document{{Content: "only doc"}}

	t.Run("weights normalized to sum 1", func(t *testing.T) {
		a := NewFuser(60).Fuse(semantic, nil, 0.6, 0.4)
		b := NewFuser(60).Fuse(semantic, nil, 6, 4)
		require.Len(t, a, 1)
		require.Len(t, b, 1)
		assert.InDelta(t, a[0].RRFScore, b[0].RRFScore, 1e-12)
	})

	t.Run("zero weights default to even split", func(t *testing.T) {
		fused := NewFuser(60).Fuse(semantic, nil, 0, 0)
		require.Len(t, fused, 1)
		assert.InDelta(t, 0.5/61, fused[0].RRFScore, 1e-12)
	})
}

func TestFuseDeterminism(t *testing.T) {
	semantic := []Document{
		{Content: "alpha"}, {Content: "beta"}, {Content: "gamma"},
	}
	keyword := []Document{
		{Content: "gamma"}, {Content: "delta"}, {Content: "alpha"},
	}

	f := NewFuser(60)
	first := f.Fuse(semantic, keyword, 0.6, 0.4)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, f.Fuse(semantic, keyword, 0.6, 0.4))
	}
}

func TestFuseTieBreak(t *testing.T) {
	// Equal weights, one doc per list, same rank: identical scores. The
	// semantic list is processed first, so its doc wins the tie.
	semantic := []Document{{Content: "from semantic"}}
	keyword := []Document{{Content: "from keyword"}}

	fused := NewFuser(60).Fuse(semantic, keyword, 0.5, 0.5)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].RRFScore, fused[1].RRFScore, 1e-12)
	assert.Equal(t, "from semantic", fused[0].Content)
	assert.Equal(t, "from keyword", fused[1].Content)
}

func TestFuseEmptyInputs(t *testing.T) {
	f := NewFuser(0)
	assert.Equal(t, DefaultK, f.K())

	assert.Empty(t, f.Fuse(nil, nil, 0.6, 0.4))

	onlyKeyword := f.Fuse(nil, []Document{{Content: "kw"}}, 0.6, 0.4)
	require.Len(t, onlyKeyword, 1)
	assert.Equal(t, []string{SourceKeyword}, onlyKeyword[0].AppearedIn)
}

func TestFuseMetadataFromFirstAppearance(t *testing.T) {
	semantic := []Document{{Content: "shared", Technology: "React", SourceURL: "https://react.dev"}}
	keyword := []Document{{Content: "shared", Technology: "React", SourceFile: "hooks.md", BM25Score: 7}}

	fused := NewFuser(60).Fuse(semantic, keyword, 0.5, 0.5)
	require.Len(t, fused, 1)

	// The first appearance (semantic) supplies the document metadata; the
	// later appearance still contributes its score fields.
	assert.Equal(t, "React", fused[0].Technology)
	assert.Equal(t, "https://react.dev", fused[0].SourceURL)
	assert.InDelta(t, 7.0, fused[0].BM25Score, 1e-9)
}
