//go:build unit

package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProxyStateSnapshot(t *testing.T) {
	state := NewProxyState()

	snap := state.Snapshot()
	require.Zero(t, snap.TotalRequests)
	require.Zero(t, snap.TotalRotations)
	require.Empty(t, snap.CurrentAccount)

	state.MarkRequest(1, "a@x.com")
	state.MarkRequest(2, "b@x.com")
	state.MarkRotation()

	snap = state.Snapshot()
	require.Equal(t, int64(2), snap.TotalRequests)
	require.Equal(t, int64(1), snap.TotalRotations)
	require.Equal(t, "b@x.com", snap.CurrentAccount)
	require.Equal(t, int64(2), snap.CurrentID)
	require.False(t, snap.StartedAt.IsZero())
}

func TestProxyStateConcurrentMarks(t *testing.T) {
	state := NewProxyState()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			state.MarkRequest(id, "x@x.com")
			state.MarkRotation()
		}(int64(i))
	}
	wg.Wait()

	snap := state.Snapshot()
	require.Equal(t, int64(50), snap.TotalRequests)
	require.Equal(t, int64(50), snap.TotalRotations)
}
