// Package tasks runs the per-carrier fetches for one request concurrently.
// Each task carries its own timeout and retry budget so a slow or broken
// carrier delays only itself; the gather always returns whatever the healthy
// carriers produced.
package tasks

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/neckchi/scheduleapi/pkg/sched"
)

var (
	metricTaskRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduleapi",
		Name:      "carrier_task_retries_total",
		Help:      "Total number of retried carrier task attempts.",
	}, []string{"carrier"})
	metricTaskFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduleapi",
		Name:      "carrier_task_failures_total",
		Help:      "Total number of carrier tasks that exhausted their attempts.",
	}, []string{"carrier"})
)

// Config holds the gather policy. The camelCase yaml names match the
// deployed configmap.
type Config struct {
	AsyncDefaultTimeOut time.Duration `yaml:"asyncDefaultTimeOut"`
	RetryNumber         int           `yaml:"retryNumber"`

	// Each retry widens the attempt timeout by RetryTimeoutStep and waits
	// RetryPause before firing. Not operator-facing.
	RetryTimeoutStep time.Duration `yaml:"-"`
	RetryPause       time.Duration `yaml:"-"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.AsyncDefaultTimeOut, prefix+"tasks.async-default-time-out", 30*time.Second, "Timeout for the first attempt of each carrier task.")
	f.IntVar(&cfg.RetryNumber, prefix+"tasks.retry-number", 3, "Total attempts per carrier task.")
	cfg.RetryTimeoutStep = 3 * time.Second
	cfg.RetryPause = 1 * time.Second
}

// Validate checks the gather policy.
func (cfg *Config) Validate() error {
	if cfg.RetryNumber < 1 {
		return fmt.Errorf("retryNumber must be at least 1")
	}
	if cfg.AsyncDefaultTimeOut <= 0 {
		return fmt.Errorf("asyncDefaultTimeOut must be positive")
	}
	return nil
}

// Job is one named carrier fetch.
type Job struct {
	Name string
	Run  func(ctx context.Context) ([]sched.Schedule, error)
}

// Manager executes jobs with the configured retry policy.
type Manager struct {
	cfg    Config
	logger log.Logger
}

// NewManager builds a Manager.
func NewManager(cfg Config, logger log.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Gather runs all jobs concurrently and waits for every one to finish or
// exhaust its attempts. Results keep job order; a failed job leaves a nil
// slot. The second return is true only when every job succeeded, which is
// what gates caching the aggregate downstream.
func (m *Manager) Gather(ctx context.Context, jobs []Job) ([][]sched.Schedule, bool) {
	results := make([][]sched.Schedule, len(jobs))
	complete := atomic.NewBool(true)

	wg := sync.WaitGroup{}
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			out, err := m.runJob(ctx, job)
			if err != nil {
				complete.Store(false)
				metricTaskFailuresTotal.WithLabelValues(job.Name).Inc()
				level.Error(m.logger).Log("msg", "carrier task failed", "task", job.Name, "err", err)
				return
			}
			results[i] = out
		}(i, job)
	}
	wg.Wait()

	return results, complete.Load()
}

func (m *Manager) runJob(ctx context.Context, job Job) ([]sched.Schedule, error) {
	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: m.cfg.RetryPause,
		MaxBackoff: m.cfg.RetryPause,
		MaxRetries: m.cfg.RetryNumber,
	})

	var lastErr error
	for boff.Ongoing() {
		attempt := boff.NumRetries()
		timeout := m.cfg.AsyncDefaultTimeOut + time.Duration(attempt)*m.cfg.RetryTimeoutStep

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := runRecovering(attemptCtx, job)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}

		metricTaskRetriesTotal.WithLabelValues(job.Name).Inc()
		level.Warn(m.logger).Log("msg", "carrier task attempt failed", "task", job.Name, "attempt", attempt+1, "timeout", timeout, "err", err)
		boff.Wait()
	}

	if lastErr == nil {
		lastErr = boff.Err()
	}
	return nil, lastErr
}

// runRecovering turns a panicking task into an ordinary failed one so a bad
// carrier payload cannot take the whole gather down.
func runRecovering(ctx context.Context, job Job) (out []sched.Schedule, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// retryable reports whether another attempt could plausibly succeed:
// attempt timeouts and transport-level failures qualify, everything else
// (bad payloads, cancelled parents) does not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr)
}
