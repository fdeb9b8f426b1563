package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityCollection(t *testing.T) {
	c := NewEntityCollection[int]()

	require.True(t, c.TryAdd("a", 1))
	require.False(t, c.TryAdd("a", 2), "duplicate add must fail")
	require.True(t, c.TryAdd("b", 2))

	v, ok := c.TryGet("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	v, ok = c.TryRemove("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = c.TryRemove("a")
	assert.False(t, ok, "second remove must fail")
	_, ok = c.TryGet("a")
	assert.False(t, ok)

	snap := c.Clone()
	assert.Equal(t, map[string]int{"b": 2}, snap.Entries)
	assert.Equal(t, []string{"a"}, snap.Removed)
	assert.Equal(t, 1, c.RemovedCount())

	c.ClearRemovedKeys(snap.Removed)
	assert.Empty(t, c.Clone().Removed)
	assert.Equal(t, 0, c.RemovedCount())
}

func TestEntityCollectionReAddAfterRemove(t *testing.T) {
	c := NewEntityCollection[int]()
	c.TryAdd("a", 1)
	c.TryRemove("a")
	snap := c.Clone()

	require.True(t, c.TryAdd("a", 3))
	c.ClearRemovedKeys(snap.Removed)

	v, ok := c.TryGet("a")
	require.True(t, ok, "clearing a stale tombstone must not drop a re-added entry")
	assert.Equal(t, 3, v)
}

func TestCloneDisjointUnderRace(t *testing.T) {
	c := NewEntityCollection[int]()
	const keys = 200
	for i := 0; i < keys; i++ {
		c.TryAdd(fmt.Sprintf("k%d", i), i)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				k := fmt.Sprintf("k%d", (i*7+w)%keys)
				if i%2 == 0 {
					c.TryRemove(k)
				} else {
					c.TryAdd(k, i)
				}
			}
		}(w)
	}

	for i := 0; i < 500; i++ {
		snap := c.Clone()
		for _, k := range snap.Removed {
			_, live := snap.Entries[k]
			require.False(t, live, "key %s both live and removed", k)
		}
		require.LessOrEqual(t, len(snap.Entries)+len(snap.Removed), keys)
	}
	close(stop)
	wg.Wait()
}
