//go:build unit

package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore_RoundTrip(t *testing.T) {
	store := newMemorySessionStore()
	ctx := context.Background()

	_, ok := store.GetBinding(ctx, "fp-1")
	require.False(t, ok)

	store.SetBinding(ctx, "fp-1", 42)
	id, ok := store.GetBinding(ctx, "fp-1")
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	// 同一指纹重绑换账号
	store.SetBinding(ctx, "fp-1", 7)
	id, ok = store.GetBinding(ctx, "fp-1")
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	store.DeleteBinding(ctx, "fp-1")
	_, ok = store.GetBinding(ctx, "fp-1")
	require.False(t, ok)
	require.Empty(t, store.order)
}

func TestMemorySessionStore_CapacityEviction(t *testing.T) {
	store := newMemorySessionStore()
	ctx := context.Background()

	for i := 0; i < maxMemoryBindings; i++ {
		store.SetBinding(ctx, fmt.Sprintf("fp-%d", i), int64(i))
	}
	require.Len(t, store.order, maxMemoryBindings)

	// 超出容量淘汰最老的一条，总量不增长
	store.SetBinding(ctx, "fp-overflow", 9999)
	require.Len(t, store.order, maxMemoryBindings)

	id, ok := store.GetBinding(ctx, "fp-overflow")
	require.True(t, ok)
	require.Equal(t, int64(9999), id)
}

func TestMemorySessionStore_UpdateExistingDoesNotEvict(t *testing.T) {
	store := newMemorySessionStore()
	ctx := context.Background()

	for i := 0; i < maxMemoryBindings; i++ {
		store.SetBinding(ctx, fmt.Sprintf("fp-%d", i), int64(i))
	}

	// 已存在的键重写不触发淘汰
	store.SetBinding(ctx, "fp-0", 100)
	require.Len(t, store.order, maxMemoryBindings)
	for i := 0; i < maxMemoryBindings; i++ {
		_, ok := store.GetBinding(ctx, fmt.Sprintf("fp-%d", i))
		require.True(t, ok)
	}
}
