package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisvault/internal/gateway/models"
)

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	_, ok, err := c.Get(ctx, "ACC1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, models.Account{AccountNumber: "ACC1", Name: "Ada", Balance: 12.5}))

	got, ok, err := c.Get(ctx, "ACC1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Name)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "ACC1")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires at the TTL boundary")
}

func TestNewMemoryCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewMemoryCache(0).ttl)
}
