// Package carriertest provides shared plumbing for adapter tests: an
// in-memory cache and a Deps bundle wired to a real fetch client, pointed at
// httptest servers through each adapter's settings.
package carriertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/work"
)

// MemoryCache is a map-backed cache.Cache.
type MemoryCache struct {
	mtx   sync.Mutex
	items map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string][]byte{}}
}

func (m *MemoryCache) FetchKey(_ context.Context, key string) ([]byte, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryCache) Store(_ context.Context, key string, val []byte, _ time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	buf := make([]byte, len(val))
	copy(buf, val)
	m.items[key] = buf
}

func (m *MemoryCache) Stop() {}

// Len returns the number of stored entries.
func (m *MemoryCache) Len() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.items)
}

// NewDeps builds an adapter Deps bundle. The background pool is registered
// for cleanup; tests that assert on background writes call
// Deps.Background.Shutdown() first to drain it.
func NewDeps(t *testing.T) (carrier.Deps, *MemoryCache) {
	t.Helper()

	logger := log.NewNopLogger()
	pool := work.NewPool(work.Config{Workers: 1, QueueDepth: 16}, logger)
	t.Cleanup(pool.Shutdown)

	mc := NewMemoryCache()
	client, err := fetch.NewClient(fetch.Config{
		MaxClientConnection:    10,
		MaxKeepAliveConnection: 2,
		KeepAliveExpiry:        time.Minute,
		ConnectTimeOut:         5 * time.Second,
		ElswhereTimeOut:        5 * time.Second,
	}, mc, pool, logger)
	require.NoError(t, err)

	return carrier.Deps{
		Fetch:          client,
		Cache:          mc,
		Background:     pool,
		Logger:         logger,
		ScheduleExpiry: 2 * time.Hour,
	}, mc
}
