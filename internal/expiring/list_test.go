package expiring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesim/exchange-engine/internal/expiring"
)

func TestAddAndItems(t *testing.T) {
	l := expiring.NewList[string](3, 0)

	l.Add("a")
	l.Add("b")

	assert.Equal(t, []string{"a", "b"}, l.Items())
	assert.Equal(t, 2, l.Len())
	assert.False(t, l.Full())
}

func TestCapacityEvictsOldest(t *testing.T) {
	l := expiring.NewList[string](2, 0)

	l.Add("a")
	l.Add("b")
	require.True(t, l.Full())

	l.Add("c")

	assert.Equal(t, []string{"b", "c"}, l.Items())
	assert.Equal(t, 2, l.Len())
}

func TestRemove(t *testing.T) {
	l := expiring.NewList[string](3, 0)
	l.Add("a")
	l.Add("b")

	assert.True(t, l.Remove("a"))
	assert.Equal(t, []string{"b"}, l.Items())

	// Removing a missing item is a no-op.
	assert.False(t, l.Remove("a"))
	assert.Equal(t, 1, l.Len())
}

func TestRemoveDropsOldestDuplicate(t *testing.T) {
	l := expiring.NewList[string](3, 0)
	l.Add("a")
	l.Add("b")
	l.Add("a")

	require.True(t, l.Remove("a"))
	assert.Equal(t, []string{"b", "a"}, l.Items())
}

func TestTTLExpiry(t *testing.T) {
	l := expiring.NewList[string](3, 20*time.Millisecond)
	l.Add("a")

	require.True(t, l.Contains("a"))

	assert.Eventually(t, func() bool {
		return !l.Contains("a")
	}, time.Second, 5*time.Millisecond, "item should expire after its TTL")
	assert.Equal(t, 0, l.Len())
}

func TestEarlyRemovalCancelsTimer(t *testing.T) {
	l := expiring.NewList[string](3, 20*time.Millisecond)
	l.Add("a")
	require.True(t, l.Remove("a"))

	// Re-add after the original timer would have fired; the stale timer must
	// not evict the fresh entry.
	time.Sleep(30 * time.Millisecond)
	l.Add("a")
	time.Sleep(5 * time.Millisecond)

	assert.True(t, l.Contains("a"))
}

func TestCapacityEvictionCancelsTimer(t *testing.T) {
	l := expiring.NewList[int](1, 50*time.Millisecond)
	l.Add(1)
	l.Add(2) // evicts 1, stopping its timer

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []int{2}, l.Items())
}
