package cache

import (
	"crypto/md5" //nolint:gosec // cache key fingerprinting, not security
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Level identifies one of the three cache tiers. Each level owns a disjoint
// key namespace; clearing one level never disturbs another.
type Level string

// Cache levels
const (
	LevelEmbedding Level = "embedding"
	LevelRetrieval Level = "retrieval"
	LevelResponse  Level = "response"
)

// Key prefixes per level. The access-counter namespace is separate from all
// three so adaptive-TTL bookkeeping never collides with cached content.
const (
	prefixEmbedding   = "emb:"
	prefixRetrieval   = "ret:"
	prefixResponse    = "resp:"
	prefixAccessCount = "access_count:"
)

// Levels lists all cache levels in a stable order.
func Levels() []Level {
	return []Level{LevelEmbedding, LevelRetrieval, LevelResponse}
}

func (l Level) prefix() string {
	switch l {
	case LevelEmbedding:
		return prefixEmbedding
	case LevelRetrieval:
		return prefixRetrieval
	case LevelResponse:
		return prefixResponse
	}
	return ""
}

// Fingerprint is a stable 128-bit digest rendered as lowercase hex. Equal
// inputs always produce equal fingerprints across calls and process restarts.
type Fingerprint string

// FingerprintText digests query text byte-for-byte (including case). It is
// the key component for the embedding and response levels, giving
// at-most-one-entry-per-exact-query semantics.
func FingerprintText(s string) Fingerprint {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintVector digests an embedding vector's raw numeric bytes, each
// float32 encoded as its IEEE-754 bits in little-endian order. Bit-identical
// vectors yield identical fingerprints; near-identical vectors do not, so
// retrieval-cache reuse only happens across requests sharing an exact
// embedding.
func FingerprintVector(v []float32) Fingerprint {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	sum := md5.Sum(buf) //nolint:gosec
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// EmbeddingKey builds the embedding-level key for a query.
func EmbeddingKey(query string) string {
	return prefixEmbedding + string(FingerprintText(query))
}

// RetrievalKey builds the retrieval-level key for an embedding vector and
// optional technology filter. Requests differing only in filter map to
// different keys.
func RetrievalKey(vector []float32, technologyFilter string) string {
	return prefixRetrieval + string(FingerprintVector(vector)) + ":" + filterPart(technologyFilter)
}

// ResponseKey builds the response-level key for a query, optional technology
// filter, and result count. Requests differing only in filter or topK map to
// different keys.
func ResponseKey(query string, technologyFilter string, topK int) string {
	return fmt.Sprintf("%s%s:%s:%d", prefixResponse, FingerprintText(query), filterPart(technologyFilter), topK)
}

// AccessCountKey builds the access-counter key for a derived cache key.
func AccessCountKey(cacheKey string) string {
	return prefixAccessCount + cacheKey
}

func filterPart(technologyFilter string) string {
	if technologyFilter == "" {
		return "none"
	}
	return technologyFilter
}
