package cache

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	instr "github.com/grafana/dskit/instrument"
	"github.com/grafana/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MemcachedConfig is config for the Memcached cache backend.
type MemcachedConfig struct {
	Host         string        `yaml:"host"`
	Timeout      time.Duration `yaml:"timeout"`
	Expiration   time.Duration `yaml:"expiration"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *MemcachedConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Host, prefix+"memcached.host", "", "Memcached server to use, host:port.")
	f.DurationVar(&cfg.Timeout, prefix+"memcached.timeout", 100*time.Millisecond, "Maximum time to wait for a memcached request.")
	f.IntVar(&cfg.MaxIdleConns, prefix+"memcached.max-idle-conns", 16, "Maximum number of idle connections to keep open.")
}

// MemcachedClient is the subset of the gomemcache client the cache uses.
type MemcachedClient interface {
	Get(key string, opts ...memcache.Option) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Memcached caches response payloads in memcached.
type Memcached struct {
	cfg             MemcachedConfig
	memcache        MemcachedClient
	name            string
	requestDuration *instr.HistogramCollector
	logger          log.Logger
}

// NewMemcached makes a new Memcached cache.
func NewMemcached(cfg MemcachedConfig, client MemcachedClient, name string, reg prometheus.Registerer, logger log.Logger) *Memcached {
	return &Memcached{
		cfg:      cfg,
		memcache: client,
		name:     name,
		logger:   logger,
		requestDuration: instr.NewHistogramCollector(
			promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Namespace:   "scheduleapi",
				Name:        "memcache_request_duration_seconds",
				Help:        "Total time spent in seconds doing memcache requests.",
				Buckets:     prometheus.ExponentialBuckets(0.000016, 4, 8),
				ConstLabels: prometheus.Labels{"name": name},
			}, []string{"method", "status_code"}),
		),
	}
}

func memcacheStatusCode(err error) string {
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "404"
	}
	if errors.Is(err, memcache.ErrMalformedKey) {
		return "400"
	}
	if err != nil {
		return "500"
	}
	return "200"
}

// FetchKey gets a single key from memcached.
func (c *Memcached) FetchKey(ctx context.Context, key string) ([]byte, bool) {
	var item *memcache.Item
	err := measureRequest(ctx, "Memcache.Get", c.requestDuration, memcacheStatusCode, func(_ context.Context) error {
		var err error
		item, err = c.memcache.Get(key)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			level.Error(c.logger).Log("msg", "error getting key from memcached", "name", c.name, "key", key, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

// Store writes a key to memcached. Failures are logged and swallowed.
func (c *Memcached) Store(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.Expiration
	}
	err := measureRequest(ctx, "Memcache.Put", c.requestDuration, memcacheStatusCode, func(_ context.Context) error {
		return c.memcache.Set(&memcache.Item{
			Key:        key,
			Value:      val,
			Expiration: int32(ttl.Seconds()),
		})
	})
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to put to memcached", "name", c.name, "err", err)
	}
}

// Stop is a no-op: the gomemcache client keeps no resources that need an
// explicit shutdown.
func (c *Memcached) Stop() {}

// Validate checks the Memcached backend configuration.
func (cfg *MemcachedConfig) Validate() error {
	if cfg.Host == "" {
		return errors.New("memcached host is required")
	}
	return nil
}
