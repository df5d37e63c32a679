package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/warden/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndMark(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := NewMemoryStore(WithClock(fake))

	assert.False(t, s.CheckAndMark("nonce-1", time.Minute))
	assert.True(t, s.CheckAndMark("nonce-1", time.Minute))

	fake.Advance(2 * time.Minute)
	assert.False(t, s.CheckAndMark("nonce-1", time.Minute), "expired key is accepted again")
}

func TestPrune(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := NewMemoryStore(WithClock(fake))

	s.CheckAndMark("a", time.Second)
	s.CheckAndMark("b", time.Hour)
	fake.Advance(time.Minute)

	assert.Equal(t, 1, s.Prune())
	assert.Equal(t, 1, s.Len())
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	s.CheckAndMark("persisted", time.Hour)
	require.NoError(t, s.Save())

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.True(t, reloaded.CheckAndMark("persisted", time.Hour))
}
