package astcache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeusData/codegraph/internal/lang"
)

func pythonFiles(n int) map[string][]byte {
	files := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("m%d.py", i)] = []byte(fmt.Sprintf("def f%d():\n    return %d\n", i, i))
	}
	return files
}

func loaderFor(files map[string][]byte) Loader {
	return func(path string) (lang.Language, []byte, bool) {
		src, ok := files[path]
		return lang.Python, src, ok
	}
}

func TestCacheBound(t *testing.T) {
	files := pythonFiles(10)
	var evicted []string
	c, err := New(3, loaderFor(files), WithEvictHook(func(p string) { evicted = append(evicted, p) }))
	require.NoError(t, err)
	defer c.Purge()

	for i := 0; i < 10; i++ {
		_, err := c.Get(fmt.Sprintf("m%d.py", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Len(), 3)
	}
	assert.Equal(t, []string{"m0.py", "m1.py", "m2.py", "m3.py", "m4.py", "m5.py", "m6.py"}, evicted)
	assert.Equal(t, 7, c.Stats().Evictions)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	files := pythonFiles(4)
	var evicted []string
	c, err := New(3, loaderFor(files), WithEvictHook(func(p string) { evicted = append(evicted, p) }))
	require.NoError(t, err)
	defer c.Purge()

	for _, p := range []string{"m0.py", "m1.py", "m2.py"} {
		_, err := c.Get(p)
		require.NoError(t, err)
	}
	// Touch m0 so m1 becomes the oldest.
	_, err = c.Get("m0.py")
	require.NoError(t, err)
	_, err = c.Get("m3.py")
	require.NoError(t, err)

	assert.Equal(t, []string{"m1.py"}, evicted)
	assert.True(t, c.Contains("m0.py"))
	assert.False(t, c.Contains("m1.py"))
	assert.Equal(t, Stats{Hits: 1, Misses: 4, Evictions: 1}, c.Stats())
}

func TestReaccessAfterEvictionReparses(t *testing.T) {
	files := pythonFiles(3)
	c, err := New(1, loaderFor(files))
	require.NoError(t, err)
	defer c.Purge()

	first, err := c.Get("m0.py")
	require.NoError(t, err)
	_, err = c.Get("m1.py")
	require.NoError(t, err)
	assert.Nil(t, first.Tree, "evicted entry must have released its tree")

	again, err := c.Get("m0.py")
	require.NoError(t, err)
	require.NotNil(t, again.Tree)
	assert.Equal(t, "module", again.Root().Kind())
}

func TestEvictLRUAndPurge(t *testing.T) {
	files := pythonFiles(3)
	c, err := New(5, loaderFor(files))
	require.NoError(t, err)
	for p := range files {
		_, err := c.Get(p)
		require.NoError(t, err)
	}
	_, ok := c.EvictLRU()
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, ok = c.EvictLRU()
	assert.False(t, ok)
}

func TestUnknownFile(t *testing.T) {
	c, err := New(2, loaderFor(nil))
	require.NoError(t, err)
	_, err = c.Get("missing.py")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestDefaultCapacity(t *testing.T) {
	files := pythonFiles(DefaultCapacity + 5)
	c, err := New(0, loaderFor(files))
	require.NoError(t, err)
	defer c.Purge()
	for p := range files {
		_, err := c.Get(p)
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}
