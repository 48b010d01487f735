package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirixdb/internal/page"
)

func TestPutGet(t *testing.T) {
	t.Parallel()

	c, err := New(128)
	require.NoError(t, err)

	kv := page.NewKeyValuePage(1, 1, page.KindNode)
	c.Put(12, kv)

	got, ok := c.Get(12)
	require.True(t, ok)
	assert.Same(t, page.Page(kv), got)

	_, ok = c.Get(99)
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestRemoveAndPurge(t *testing.T) {
	t.Parallel()

	c, err := New(128)
	require.NoError(t, err)

	c.Put(1, page.NewIndirectPage(0))
	c.Put(2, page.NewIndirectPage(0))

	c.Remove(1)
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Purge()
	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestCapacityFloor(t *testing.T) {
	t.Parallel()

	// Tiny capacities are raised to the minimum rather than rejected.
	c, err := New(1)
	require.NoError(t, err)
	for i := int64(0); i < MinCapacity/2; i++ {
		c.Put(i, page.NewIndirectPage(0))
	}
	found := 0
	for i := int64(0); i < MinCapacity/2; i++ {
		if _, ok := c.Get(i); ok {
			found++
		}
	}
	assert.Equal(t, int(MinCapacity/2), found)
}
