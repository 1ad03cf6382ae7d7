package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t testing.TB) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type holder struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "nodes-test", holder{IP: "10.0.0.1", Hostname: "node1"}, time.Minute))

	var got holder
	ok, err := c.Get(ctx, "nodes-test", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, holder{IP: "10.0.0.1", Hostname: "node1"}, got)
}

func TestGet_Missing(t *testing.T) {
	c := newTestCache(t)
	var got holder
	ok, err := c.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet_Overwrites(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "k", 2, time.Minute))

	var got int
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	base := time.Now()
	c.now = func() time.Time { return base }

	require.NoError(t, c.Set(ctx, "k", "v", 60*time.Second))

	c.now = func() time.Time { return base.Add(59 * time.Second) }
	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Set(ctx, "shared", i, time.Minute))
			var got int
			_, err := c.Get(ctx, "shared", &got)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestSharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "k", "from-a", time.Minute))
	var got string
	ok, err := b.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", got)
}
