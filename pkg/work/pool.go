package work

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

const queueLengthReportDuration = 15 * time.Second

var (
	metricQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduleapi",
		Name:      "background_queue_length",
		Help:      "Current length of the background work queue.",
	})

	metricQueueMax = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduleapi",
		Name:      "background_queue_max",
		Help:      "Maximum number of items in the background work queue.",
	})

	metricTasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduleapi",
		Name:      "background_tasks_dropped_total",
		Help:      "Total number of background tasks dropped because the queue was full.",
	})
)

// Task is a unit of background work, typically a cache write. Tasks run
// detached from the request that spawned them.
type Task func(ctx context.Context)

// Config holds worker pool settings.
type Config struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Workers, prefix+"background.workers", 4, "Number of background workers.")
	f.IntVar(&cfg.QueueDepth, prefix+"background.queue-depth", 256, "Depth of the background work queue.")
}

// Pool runs fire-and-forget tasks on a bounded queue so request handling
// never blocks on cache writes. A full queue drops the task.
type Pool struct {
	cfg    Config
	queue  chan Task
	size   *atomic.Int32
	done   chan struct{}
	wg     sync.WaitGroup
	stop   sync.Once
	logger log.Logger
}

// NewPool starts the workers.
func NewPool(cfg Config, logger log.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}

	p := &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueDepth),
		size:   atomic.NewInt32(0),
		done:   make(chan struct{}),
		logger: logger,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	go p.reportQueueLength()

	metricQueueMax.Set(float64(cfg.QueueDepth))

	return p
}

// Enqueue adds a task to the queue. It returns false when the queue is
// full; the task is dropped and counted.
func (p *Pool) Enqueue(t Task) bool {
	select {
	case p.queue <- t:
		p.size.Inc()
		return true
	default:
		metricTasksDropped.Inc()
		level.Warn(p.logger).Log("msg", "background queue full, dropping task")
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to drain.
func (p *Pool) Shutdown() {
	p.stop.Do(func() {
		close(p.queue)
		p.wg.Wait()
		close(p.done)
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.size.Dec()
		t(context.Background())
	}
}

func (p *Pool) reportQueueLength() {
	ticker := time.NewTicker(queueLengthReportDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metricQueueLength.Set(float64(p.size.Load()))
		case <-p.done:
			return
		}
	}
}
