package cache

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/grafana/dskit/flagext"
	instr "github.com/grafana/dskit/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RedisConfig is config for the Redis cache backend.
type RedisConfig struct {
	Endpoint   string         `yaml:"endpoint"`
	Username   string         `yaml:"username"`
	Password   flagext.Secret `yaml:"password"`
	DB         int            `yaml:"db"`
	Timeout    time.Duration  `yaml:"timeout"`
	Expiration time.Duration  `yaml:"expiration"`
	PoolSize   int            `yaml:"pool_size"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *RedisConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, prefix+"redis.endpoint", "", "Redis endpoint to use when caching, host:port.")
	f.StringVar(&cfg.Username, prefix+"redis.username", "", "Username to authenticate with Redis.")
	f.Var(&cfg.Password, prefix+"redis.password", "Password to authenticate with Redis.")
	f.IntVar(&cfg.DB, prefix+"redis.db", 0, "Database index.")
	f.DurationVar(&cfg.Timeout, prefix+"redis.timeout", 500*time.Millisecond, "Maximum time to wait for a Redis command.")
	f.IntVar(&cfg.PoolSize, prefix+"redis.pool-size", 0, "Maximum number of connections in the pool.")
}

// RedisClient is the subset of the go-redis client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis caches response payloads in Redis.
type Redis struct {
	cfg             RedisConfig
	client          RedisClient
	name            string
	requestDuration *instr.HistogramCollector
	logger          log.Logger
}

// NewRedis connects a Redis cache and verifies the connection with a ping.
// A failed ping is logged, not fatal: an unreachable backend behaves as a
// permanent miss until it recovers.
func NewRedis(cfg RedisConfig, name string, reg prometheus.Registerer, logger log.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoint,
		Username:     cfg.Username,
		Password:     cfg.Password.String(),
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     cfg.PoolSize,
	})
	return newRedisWithClient(cfg, client, name, reg, logger)
}

func newRedisWithClient(cfg RedisConfig, client RedisClient, name string, reg prometheus.Registerer, logger log.Logger) *Redis {
	c := &Redis{
		cfg:    cfg,
		client: client,
		name:   name,
		logger: logger,
		requestDuration: instr.NewHistogramCollector(
			promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Namespace:   "scheduleapi",
				Name:        "redis_request_duration_seconds",
				Help:        "Total time spent in seconds doing Redis requests.",
				Buckets:     prometheus.ExponentialBuckets(0.000016, 4, 8),
				ConstLabels: prometheus.Labels{"name": name},
			}, []string{"method", "status_code"}),
		),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		level.Warn(logger).Log("msg", "unable to ping redis, caching degraded to miss", "name", name, "err", err)
	}
	return c
}

func redisStatusCode(err error) string {
	if errors.Is(err, redis.Nil) {
		return "404"
	}
	if err != nil {
		return "500"
	}
	return "200"
}

// FetchKey gets a single key from Redis.
func (c *Redis) FetchKey(ctx context.Context, key string) ([]byte, bool) {
	var buf []byte
	err := measureRequest(ctx, "Redis.Get", c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		var err error
		buf, err = c.client.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			level.Error(c.logger).Log("msg", "error getting key from redis", "name", c.name, "key", key, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, false
	}
	return buf, true
}

// Store writes a key to Redis. Failures are logged and swallowed.
func (c *Redis) Store(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.Expiration
	}
	err := measureRequest(ctx, "Redis.Set", c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		return c.client.Set(ctx, key, val, ttl).Err()
	})
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to put to redis", "name", c.name, "err", err)
	}
}

func (c *Redis) Stop() {
	if err := c.client.Close(); err != nil {
		level.Error(c.logger).Log("msg", "error closing redis client", "name", c.name, "err", err)
	}
}

// Validate checks the Redis backend configuration.
func (cfg *RedisConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("redis endpoint is required")
	}
	return nil
}
