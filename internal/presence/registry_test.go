package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Register(1, "c1"))
	assert.False(t, r.Register(1, "c1"))
	assert.Equal(t, 1, r.Len())

	connID, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "c1", connID)
}

func TestFirstConnectionWins(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "c1")

	assert.False(t, r.Register(1, "c2"))
	connID, _ := r.Lookup(1)
	assert.Equal(t, "c1", connID)

	// Unregistering the loser is a no-op.
	_, ok := r.Unregister("c2")
	assert.False(t, ok)
	connID, ok = r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "c1", connID)

	userID, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, int64(1), userID)
	_, ok = r.Lookup(1)
	assert.False(t, ok)

	assert.True(t, r.Register(1, "c2"))
}

func TestListAllSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(3, "c3")
	r.Register(1, "c1")
	r.Register(2, "c2")

	assert.Equal(t, []Entry{{1, "c1"}, {2, "c2"}, {3, "c3"}}, r.ListAll())

	r.Reset()
	assert.Empty(t, r.ListAll())
	assert.NotNil(t, r.ListAll())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Register(int64(i%10), conn)
			r.Lookup(int64(i % 10))
			r.ListAll()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, r.Len())
}
