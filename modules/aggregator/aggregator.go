// Package aggregator runs one point-to-point search end to end: resolve the
// product fingerprint, consult the response cache, fan out to the owning
// carrier adapters, then merge, order, validate and serialize whatever they
// produced into the product envelope.
package aggregator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/tasks"
	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/sched"
	"github.com/neckchi/scheduleapi/pkg/work"
)

var (
	metricProductCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduleapi",
		Name:      "product_cache_hits_total",
		Help:      "Total number of product envelopes served from cache.",
	})
	metricSchedulesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduleapi",
		Name:      "schedules_dropped_total",
		Help:      "Total number of schedules dropped by response validation.",
	}, []string{"scac"})
	metricProductSchedules = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduleapi",
		Name:      "product_schedules",
		Help:      "Number of schedules per served product.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
	})
)

// Aggregator owns the search pipeline behind the gateway.
type Aggregator struct {
	registry   *carrier.Registry
	manager    *tasks.Manager
	cache      cache.Cache
	background *work.Pool
	expiry     time.Duration
	logger     log.Logger
}

// New builds an aggregator over the given carrier registry. Served envelopes
// live in the cache for expiry.
func New(registry *carrier.Registry, manager *tasks.Manager, c cache.Cache, background *work.Pool, expiry time.Duration, logger log.Logger) *Aggregator {
	return &Aggregator{
		registry:   registry,
		manager:    manager,
		cache:      c,
		background: background,
		expiry:     expiry,
		logger:     logger,
	}
}

// Result is one finished search: the serialized envelope plus what the
// transport layer emits alongside it.
type Result struct {
	Body   []byte
	Count  int
	Cached bool
}

// CacheControl returns the Cache-Control value for this result. Empty
// results must never be pinned by intermediaries.
func (r *Result) CacheControl() string {
	if r.Count > 0 {
		return "public, max-age=7200"
	}
	return "no-cache, no-store, max-age=0, must-revalidate"
}

// ProductID derives the deterministic fingerprint of one search. Identical
// requests map to the same product id for as long as the envelope is cached.
func ProductID(q *carrier.Query) string {
	return cache.Key(
		"p2p schedule",
		carrier.OrNone(string(q.SCAC)),
		q.Origin,
		q.Destination,
		string(q.StartDateType),
		q.StartDate.Format(sched.DateLayout),
		strconv.Itoa(int(q.SearchRange)),
		carrier.TriState(q.DirectOnly),
		carrier.OrNone(q.VesselIMO),
		carrier.OrNone(q.Service),
		carrier.OrNone(q.TSP),
	)
}

// Product serves one search. A cached envelope is returned unchanged.
// Otherwise every owning adapter runs under the task manager, and the
// merged result is cached in the background, but only when no carrier task
// failed; a partial envelope must age out of rotation, not get pinned.
func (a *Aggregator) Product(ctx context.Context, q *carrier.Query) (*Result, error) {
	key := ProductID(q)
	if body, ok := a.cache.FetchKey(ctx, key); ok {
		metricProductCacheHits.Inc()
		return &Result{
			Body:   body,
			Count:  jsoniter.Get(body, "noofSchedule").ToInt(),
			Cached: true,
		}, nil
	}

	rows, complete := a.manager.Gather(ctx, a.jobs(q))

	var flat []sched.Schedule
	for _, row := range rows {
		flat = append(flat, row...)
	}
	sched.SortSchedules(flat)
	flat = a.validated(flat)
	metricProductSchedules.Observe(float64(len(flat)))

	if len(flat) == 0 {
		body, err := jsoniter.Marshal(sched.ErrorEnvelope{
			ProductID: uuid.MustParse(key),
			Details:   fmt.Sprintf("%s-%s schedule not found", q.Origin, q.Destination),
		})
		if err != nil {
			return nil, fmt.Errorf("encoding error envelope: %w", err)
		}
		return &Result{Body: body}, nil
	}

	body, err := jsoniter.Marshal(sched.Product{
		ProductID:    uuid.MustParse(key),
		Origin:       q.Origin,
		Destination:  q.Destination,
		NoOfSchedule: len(flat),
		Schedules:    flat,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding product envelope: %w", err)
	}

	if complete {
		a.background.Enqueue(func(ctx context.Context) {
			a.cache.Store(ctx, key, body, a.expiry)
		})
	}
	return &Result{Body: body, Count: len(flat)}, nil
}

// jobs builds one task per adapter the request fans out to. An accepted
// SCAC with no adapter behind it fans out to nothing and yields the
// not-found envelope.
func (a *Aggregator) jobs(q *carrier.Query) []tasks.Job {
	adapters := a.registry.Select(q.SCAC)
	jobs := make([]tasks.Job, 0, len(adapters))
	for _, ad := range adapters {
		ad := ad
		jobs = append(jobs, tasks.Job{
			Name: ad.Name(),
			Run: func(ctx context.Context) ([]sched.Schedule, error) {
				return ad.Fetch(ctx, q)
			},
		})
	}
	return jobs
}

// validated drops schedules that violate the response schema. One bad
// schedule never fails the whole product.
func (a *Aggregator) validated(in []sched.Schedule) []sched.Schedule {
	out := in[:0]
	for _, s := range in {
		if err := s.Validate(); err != nil {
			metricSchedulesDropped.WithLabelValues(s.SCAC).Inc()
			level.Warn(a.logger).Log("msg", "dropping invalid schedule", "scac", s.SCAC, "etd", s.ETD, "err", err)
			continue
		}
		out = append(out, s)
	}
	return out
}
