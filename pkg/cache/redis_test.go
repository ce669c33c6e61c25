package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	client, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Skip("Redis not available")
	}
	defer client.Close()

	c := NewRedisCache(client, "qatmarket-test")
	require.NoError(t, c.Delete(ctx, "unread:u1"))

	var n int
	assert.ErrorIs(t, c.Get(ctx, "unread:u1", &n), ErrMiss)

	require.NoError(t, c.Set(ctx, "unread:u1", 3, time.Minute))
	require.NoError(t, c.Get(ctx, "unread:u1", &n))
	assert.Equal(t, 3, n)

	require.NoError(t, c.Delete(ctx, "unread:u1"))
	assert.ErrorIs(t, c.Get(ctx, "unread:u1", &n), ErrMiss)
}
