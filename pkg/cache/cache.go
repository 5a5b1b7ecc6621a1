package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	instr "github.com/grafana/dskit/instrument"
)

// Cache is the opaque key/value store consulted before upstream carrier
// calls. Implementations must be safe for concurrent use. Failures are
// logged by the implementation and surface as misses; they never propagate.
type Cache interface {
	// FetchKey gets a single key. The second return is false on miss or
	// backend failure.
	FetchKey(ctx context.Context, key string) ([]byte, bool)
	// Store writes a key with the given TTL. A zero TTL uses the backend's
	// configured default expiration.
	Store(ctx context.Context, key string, val []byte, ttl time.Duration)
	Stop()
}

// Key derives the deterministic fingerprint for a set of canonical request
// parts: a UUIDv5 over the DNS namespace. Identical parts always produce
// the identical key, across processes.
func Key(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(strings.Join(parts, "|"))).String()
}

// Noop is the disabled-cache backend. Every lookup misses and every store
// is dropped.
type Noop struct{}

func (Noop) FetchKey(context.Context, string) ([]byte, bool) { return nil, false }

func (Noop) Store(context.Context, string, []byte, time.Duration) {}

func (Noop) Stop() {}

func measureRequest(ctx context.Context, method string, col instr.Collector, toStatusCode func(error) string, f func(context.Context) error) error {
	start := time.Now()
	col.Before(ctx, method, start)
	err := f(ctx)
	col.After(ctx, method, toStatusCode(err), start)
	return err
}
