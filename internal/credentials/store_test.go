package credentials

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	store := NewStore()
	require.False(t, store.Ready())
	require.Equal(t, Credentials{}, store.Snapshot())

	store.Initialize("worker-1", "token-1")
	require.True(t, store.Ready())
	require.Equal(t, Credentials{WorkerID: "worker-1", AuthToken: "token-1"}, store.Snapshot())

	store.Initialize("worker-2", "token-2")
	require.Equal(t, "worker-2", store.Snapshot().WorkerID)
	require.Equal(t, "token-2", store.Snapshot().AuthToken)
}

func TestStoreRequiresBothValues(t *testing.T) {
	tests := map[string]struct {
		worker string
		token  string
	}{
		"missing worker": {token: "t"},
		"missing token":  {worker: "w"},
		"blank values":   {worker: " ", token: "\t"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			store := NewStore()
			store.Initialize(tc.worker, tc.token)
			require.False(t, store.Ready())
		})
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Initialize(fmt.Sprintf("w%d", i), fmt.Sprintf("t%d", i))
		}(i)
		go func() {
			defer wg.Done()
			snap := store.Snapshot()
			if snap.WorkerID != "" {
				require.Equal(t, snap.WorkerID[1:], snap.AuthToken[1:])
			}
		}()
	}
	wg.Wait()
	require.True(t, store.Ready())
}

func TestNilStoreIsNotReady(t *testing.T) {
	var store *Store
	require.False(t, store.Ready())
}
