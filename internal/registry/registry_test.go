package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venrik/meetwire/internal/domain"
)

func member(addr, name string) domain.Participant {
	return domain.Participant{Address: domain.Address(addr), DisplayName: name}
}

func TestUpsertNewVsUpdate(t *testing.T) {
	r := New()

	assert.True(t, r.Upsert(member("room@conf.x/alice", "Alice")))
	assert.Equal(t, 1, r.Size())

	// Same address again is an update, not a join.
	assert.False(t, r.Upsert(member("room@conf.x/alice", "Alice B")))
	assert.Equal(t, 1, r.Size())

	got, ok := r.Get("room@conf.x/alice")
	require.True(t, ok)
	assert.Equal(t, "Alice B", got.DisplayName)
}

func TestRemove(t *testing.T) {
	r := New()
	r.Upsert(member("room@conf.x/alice", "Alice"))

	assert.True(t, r.Remove("room@conf.x/alice"))
	assert.False(t, r.Remove("room@conf.x/alice"))
	assert.Equal(t, 0, r.Size())

	_, ok := r.Get("room@conf.x/alice")
	assert.False(t, ok)
}

func TestSnapshotIsDetachedAndOrdered(t *testing.T) {
	r := New()
	r.Upsert(member("room@conf.x/carol", "Carol"))
	r.Upsert(member("room@conf.x/alice", "Alice"))
	r.Upsert(member("room@conf.x/bob", "Bob"))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "Alice", snap[0].DisplayName)
	assert.Equal(t, "Bob", snap[1].DisplayName)
	assert.Equal(t, "Carol", snap[2].DisplayName)

	// Mutating the snapshot must not leak into the store.
	snap[0].DisplayName = "changed"
	got, _ := r.Get("room@conf.x/alice")
	assert.Equal(t, "Alice", got.DisplayName)
}

func TestClear(t *testing.T) {
	r := New()
	r.Upsert(member("room@conf.x/alice", "Alice"))
	r.Upsert(member("room@conf.x/bob", "Bob"))

	r.Clear()
	assert.Equal(t, 0, r.Size())
	assert.Empty(t, r.Snapshot())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			addrs := []string{"room@conf.x/a", "room@conf.x/b", "room@conf.x/c"}
			for j := 0; j < 100; j++ {
				addr := addrs[(n+j)%len(addrs)]
				r.Upsert(member(addr, "x"))
				r.Snapshot()
				r.Remove(domain.Address(addr))
			}
		}(i)
	}
	wg.Wait()
}
