package recovery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesim/exchange-engine/internal/recovery"
)

func TestIssueAndConsume(t *testing.T) {
	r := recovery.NewRegistry(3, time.Minute)

	require.NoError(t, r.Issue(1, "code-a"))
	assert.Equal(t, 1, r.Outstanding(1))

	assert.True(t, r.Consume(1, "code-a"))
	assert.Equal(t, 0, r.Outstanding(1))

	// A code redeems at most once.
	assert.False(t, r.Consume(1, "code-a"))
}

func TestConsumeUnknownUserOrCode(t *testing.T) {
	r := recovery.NewRegistry(3, time.Minute)

	assert.False(t, r.Consume(99, "nope"))

	require.NoError(t, r.Issue(1, "code-a"))
	assert.False(t, r.Consume(1, "wrong"))
	assert.Equal(t, 1, r.Outstanding(1))
}

func TestIssueLimit(t *testing.T) {
	r := recovery.NewRegistry(2, time.Minute)

	require.NoError(t, r.Issue(1, "a"))
	require.NoError(t, r.Issue(1, "b"))

	err := r.Issue(1, "c")
	assert.ErrorIs(t, err, recovery.ErrTooManyCodes)

	// Earlier codes are never evicted to make room.
	assert.True(t, r.Consume(1, "a"))
	assert.True(t, r.Consume(1, "b"))
	assert.False(t, r.Consume(1, "c"))
}

func TestLimitIsPerUser(t *testing.T) {
	r := recovery.NewRegistry(1, time.Minute)

	require.NoError(t, r.Issue(1, "a"))
	require.NoError(t, r.Issue(2, "b"))

	assert.ErrorIs(t, r.Issue(1, "c"), recovery.ErrTooManyCodes)
	assert.True(t, r.Consume(2, "b"))
}

func TestCodesExpire(t *testing.T) {
	r := recovery.NewRegistry(2, 20*time.Millisecond)

	require.NoError(t, r.Issue(1, "a"))

	assert.Eventually(t, func() bool {
		return r.Outstanding(1) == 0
	}, time.Second, 5*time.Millisecond, "code should expire after its TTL")
	assert.False(t, r.Consume(1, "a"))

	// Expiry frees capacity for new codes.
	require.NoError(t, r.Issue(1, "b"))
	require.NoError(t, r.Issue(1, "c"))
}
