package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWarmer(t *testing.T) (*Warmer, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWarmer(NewResilientClient(client, nil, nil), nil), mr
}

func TestWarmerTrackAndTop(t *testing.T) {
	w, _ := newTestWarmer(t)
	ctx := context.Background()

	w.TrackQuery(ctx, "popular query", "React Docs")
	w.TrackQuery(ctx, "popular query", "React Docs")
	w.TrackQuery(ctx, "popular query", "React Docs")
	w.TrackQuery(ctx, "rare query", "")

	top, err := w.TopQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)

	assert.Equal(t, "popular query", top[0].Query)
	assert.Equal(t, int64(3), top[0].HitCount)
	assert.Equal(t, "React Docs", top[0].TechnologyFilter)
	assert.Greater(t, top[0].LastAccessed, float64(0))

	assert.Equal(t, "rare query", top[1].Query)
	assert.Equal(t, int64(1), top[1].HitCount)
}

func TestWarmerTopQueriesLimit(t *testing.T) {
	w, _ := newTestWarmer(t)
	ctx := context.Background()

	w.TrackQuery(ctx, "a", "")
	w.TrackQuery(ctx, "b", "")
	w.TrackQuery(ctx, "c", "")

	top, err := w.TopQueries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestWarmerWarm(t *testing.T) {
	w, _ := newTestWarmer(t)
	ctx := context.Background()

	w.TrackQuery(ctx, "good one", "Go Docs")
	w.TrackQuery(ctx, "good one", "Go Docs")
	w.TrackQuery(ctx, "failing one", "")

	var executed []string
	err := w.Warm(ctx, 10, func(ctx context.Context, query, technologyFilter string) error {
		executed = append(executed, query)
		if query == "failing one" {
			return errors.New("backend unavailable")
		}
		if query == "good one" {
			assert.Equal(t, "Go Docs", technologyFilter)
		}
		return nil
	})

	// A single failing query is skipped, not fatal.
	require.NoError(t, err)
	assert.Equal(t, []string{"good one", "failing one"}, executed)
}

func TestWarmerWarmEmpty(t *testing.T) {
	w, _ := newTestWarmer(t)

	err := w.Warm(context.Background(), 10, func(context.Context, string, string) error {
		t.Fatal("exec must not run with nothing tracked")
		return nil
	})
	require.NoError(t, err)
}

func TestWarmerMetadataExpiry(t *testing.T) {
	w, mr := newTestWarmer(t)
	w.TrackQuery(context.Background(), "q", "f")

	ttl := mr.TTL(queryMetaPrefix + "q")
	assert.Equal(t, queryMetaTTL, ttl)

	// The frequency set never expires; it is trimmed by metadata aging.
	assert.True(t, mr.Exists(queryFreqKey))
	assert.Equal(t, time.Duration(0), mr.TTL(queryFreqKey))
}
