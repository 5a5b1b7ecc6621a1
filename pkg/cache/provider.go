package cache

import (
	"flag"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// BackendRedis caches in Redis.
	BackendRedis = "redis"
	// BackendMemcached caches in memcached.
	BackendMemcached = "memcached"
	// BackendNone disables caching. Every lookup is a miss.
	BackendNone = "none"
)

// Config selects and configures the cache backend.
type Config struct {
	Backend        string          `yaml:"backend"`
	ScheduleExpiry time.Duration   `yaml:"scheduleExpiry"`
	Redis          RedisConfig     `yaml:"redis"`
	Memcached      MemcachedConfig `yaml:"memcached"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Backend, prefix+"cache.backend", BackendRedis, "Cache backend to use: redis, memcached or none.")
	f.DurationVar(&cfg.ScheduleExpiry, prefix+"cache.schedule-expiry", 2*time.Hour, "How long aggregated schedule responses stay cached.")
	cfg.Redis.RegisterFlagsAndApplyDefaults(prefix+"cache.", f)
	cfg.Memcached.RegisterFlagsAndApplyDefaults(prefix+"cache.", f)
}

// Validate checks the selected backend's configuration.
func (cfg *Config) Validate() error {
	switch cfg.Backend {
	case BackendNone, "":
		return nil
	case BackendRedis:
		return cfg.Redis.Validate()
	case BackendMemcached:
		return cfg.Memcached.Validate()
	}
	return fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// NewCache builds the configured cache backend. The none backend yields a
// Noop cache, so callers always get a usable Cache.
func NewCache(cfg *Config, reg prometheus.Registerer, logger log.Logger) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	switch cfg.Backend {
	case BackendNone, "":
		level.Info(logger).Log("msg", "response caching disabled")
		return Noop{}, nil
	case BackendRedis:
		if cfg.Redis.Expiration == 0 {
			cfg.Redis.Expiration = cfg.ScheduleExpiry
		}
		level.Info(logger).Log("msg", "configuring redis cache", "endpoint", cfg.Redis.Endpoint)
		return NewRedis(cfg.Redis, "schedule", reg, logger), nil
	case BackendMemcached:
		if cfg.Memcached.Expiration == 0 {
			cfg.Memcached.Expiration = cfg.ScheduleExpiry
		}
		level.Info(logger).Log("msg", "configuring memcached cache", "host", cfg.Memcached.Host)
		client := memcache.New(cfg.Memcached.Host)
		client.Timeout = cfg.Memcached.Timeout
		client.MaxIdleConns = cfg.Memcached.MaxIdleConns
		return NewMemcached(cfg.Memcached, client, "schedule", reg, logger), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
