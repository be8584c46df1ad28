package cache

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
}

func TestMemoryCache_LockIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	ok, err := c.Lock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Lock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Unlock(ctx, "run"))
	ok, err = c.Lock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_LockExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	ok, _ := c.Lock(ctx, "run", 10*time.Millisecond)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)

	ok, err := c.Lock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
