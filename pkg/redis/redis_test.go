package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLastSeen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLastSeen(time.Hour, 10)

	_, ok, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, "u1", at))

	got, ok, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(at))
}

func TestLastSeenKey(t *testing.T) {
	assert.Equal(t, "presence:last_seen:abc", lastSeenKey("abc"))
}
