package sentinelhub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityclimate/rasterflow/internal/domain"
)

type fakeSearcher struct {
	calls int
	dates []string
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, _ domain.BBox, _, _ time.Time, _ int, _ string) ([]string, error) {
	f.calls++
	return f.dates, f.err
}

func TestCachedCatalog_HitAndMiss(t *testing.T) {
	inner := &fakeSearcher{dates: []string{"2023-08-15"}}
	cached := NewCachedCatalog(inner, 8, nil)

	from := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 6, 0)

	dates, err := cached.Search(context.Background(), testBBox, from, to, 25, "sentinel-2-l2a")
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-08-15"}, dates)
	assert.Equal(t, 1, inner.calls)

	// Identical query is served from the cache.
	dates, err = cached.Search(context.Background(), testBBox, from, to, 25, "sentinel-2-l2a")
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-08-15"}, dates)
	assert.Equal(t, 1, inner.calls)

	// A different cloud-cover threshold is a different query.
	_, err = cached.Search(context.Background(), testBBox, from, to, 10, "sentinel-2-l2a")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	// A different collection too.
	_, err = cached.Search(context.Background(), testBBox, from, to, 25, "landsat-ot-l2")
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedCatalog_EmptyResultsNotCached(t *testing.T) {
	inner := &fakeSearcher{}
	cached := NewCachedCatalog(inner, 8, nil)

	from := time.Now().Add(-time.Hour)
	to := time.Now()

	_, err := cached.Search(context.Background(), testBBox, from, to, 25, "sentinel-2-l2a")
	require.NoError(t, err)
	_, err = cached.Search(context.Background(), testBBox, from, to, 25, "sentinel-2-l2a")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "empty results should be retried")
}

func TestCachedCatalog_ErrorsPropagate(t *testing.T) {
	inner := &fakeSearcher{err: errors.New("boom")}
	cached := NewCachedCatalog(inner, 8, nil)

	_, err := cached.Search(context.Background(), testBBox, time.Now().Add(-time.Hour), time.Now(), 25, "sentinel-2-l2a")
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []string{"1"})
	c.put("b", []string{"2"})

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", []string{"3"})

	_, ok = c.get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}
