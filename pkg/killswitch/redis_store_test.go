package killswitch

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestRedisStore_Integration requires a running Redis; skipped otherwise.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	scope := "test-tenant-redis-store"
	t.Cleanup(func() { _ = store.Delete(ctx, scope) })

	_, ok, err := store.Get(ctx, scope)
	require.NoError(t, err)
	require.False(t, ok)

	claimed, err := store.SetIfAbsent(ctx, scope, State{Active: true, Reason: "first"})
	require.NoError(t, err)
	require.True(t, claimed)

	claimedAgain, err := store.SetIfAbsent(ctx, scope, State{Active: true, Reason: "second"})
	require.NoError(t, err)
	require.False(t, claimedAgain)

	st, ok, err := store.Get(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", st.Reason)

	require.NoError(t, store.Delete(ctx, scope))
	_, ok, err = store.Get(ctx, scope)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_RedisBacked_ActivateIsDistributedIdempotent(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	scope := "test-tenant-manager-redis"
	t.Cleanup(func() { _ = store.Delete(ctx, scope) })

	m1 := NewWithStore(nil, store)
	m2 := NewWithStore(nil, store)

	m1.Activate(ctx, scope, "first reason")
	m2.Activate(ctx, scope, "second reason")

	require.True(t, m2.IsActive(scope))
	require.Equal(t, "first reason", m1.GetStatus(scope).Reason)
}
