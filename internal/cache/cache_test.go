package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Slots []string `json:"slots"`
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, 10*time.Minute), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "avail:loc:4:g2:2024-01-01:2024-01-07:60", Key(4, 2, "2024-01-01", "2024-01-07", "60"))
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	k1 := Key(1, 0, "a")
	k2 := Key(1, 0, "b")
	k3 := Key(2, 0, "a")
	for _, k := range []string{k1, k2} {
		require.NoError(t, c.Set(ctx, 1, 0, k, payload{Slots: []string{"09:00"}}))
	}
	require.NoError(t, c.Set(ctx, 2, 0, k3, payload{Slots: []string{"10:00"}}))

	var got payload
	ok, err := c.Get(ctx, k1, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"09:00"}, got.Slots)

	require.NoError(t, c.InvalidateLocation(ctx, 1))

	for _, k := range []string{k1, k2} {
		ok, err := c.Get(ctx, k, &got)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
	assert.False(t, mr.Exists(indexKey(1)))

	ok, err = c.Get(ctx, k3, &got)
	require.NoError(t, err)
	assert.True(t, ok, "other locations are untouched")
}

func TestRedis_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	k := Key(1, 0, "x")
	require.NoError(t, c.Set(ctx, 1, 0, k, payload{}))
	mr.FastForward(11 * time.Minute)

	var got payload
	ok, err := c.Get(ctx, k, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_InvalidateEmptyLocation(t *testing.T) {
	c, _ := newRedis(t)
	assert.NoError(t, c.InvalidateLocation(context.Background(), 99))
}

func TestRedis_GetReportsConnectionErrors(t *testing.T) {
	c, mr := newRedis(t)
	mr.Close()

	var got payload
	_, err := c.Get(context.Background(), Key(1, 0, "x"), &got)
	assert.Error(t, err)
}

func TestMemory_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory(10 * time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, 1, 0, Key(1, 0, "a"), payload{Slots: []string{"x"}}))
	require.NoError(t, m.Set(ctx, 2, 0, Key(2, 0, "a"), payload{}))

	var got payload
	ok, err := m.Get(ctx, Key(1, 0, "a"), &got)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.InvalidateLocation(ctx, 1))
	ok, _ = m.Get(ctx, Key(1, 0, "a"), &got)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())

	now = now.Add(10 * time.Minute)
	ok, _ = m.Get(ctx, Key(2, 0, "a"), &got)
	assert.False(t, ok, "entry expires at ttl")
	assert.Equal(t, 0, m.Len())
}

func TestSet_RefusesResultsOlderThanInvalidation(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedis(t)
	caches := map[string]Cache{
		"redis":  r,
		"memory": NewMemory(10 * time.Minute),
	}
	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			gen, err := c.Generation(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, int64(0), gen)

			// Computed at generation 0, invalidated before the write lands.
			require.NoError(t, c.InvalidateLocation(ctx, 3))
			err = c.Set(ctx, 3, gen, Key(3, gen, "x"), payload{Slots: []string{"10:00"}})
			assert.ErrorIs(t, err, ErrStale)

			var got payload
			ok, err := c.Get(ctx, Key(3, gen, "x"), &got)
			require.NoError(t, err)
			assert.False(t, ok)

			next, err := c.Generation(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, int64(1), next)
			require.NoError(t, c.Set(ctx, 3, next, Key(3, next, "x"), payload{}))
			ok, err = c.Get(ctx, Key(3, next, "x"), &got)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}
