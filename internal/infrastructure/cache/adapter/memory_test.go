package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/infrastructure/cache/adapter"
	"flowgate/internal/infrastructure/cache/port"
)

func Test_MemoryCache_round_trips_values(t *testing.T) {
	c := adapter.NewMemoryCache()

	require.NoError(t, c.Set(context.Background(), "k", "v", 0))

	got, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func Test_MemoryCache_misses_unknown_keys(t *testing.T) {
	c := adapter.NewMemoryCache()

	_, err := c.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, port.ErrMiss)
}

func Test_MemoryCache_expires_entries(t *testing.T) {
	c := adapter.NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", "v", 10*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, err := c.Get(context.Background(), "k")
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func Test_MemoryCache_del_reports_removed_count(t *testing.T) {
	c := adapter.NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "a", "1", 0))
	require.NoError(t, c.Set(context.Background(), "b", "2", 0))

	n, err := c.Del(context.Background(), "a", "b", "missing")

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
