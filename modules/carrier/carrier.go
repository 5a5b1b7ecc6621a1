// Package carrier defines the adapter contract every carrier integration
// implements, plus the request vocabulary and filter semantics shared by all
// of them.
package carrier

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/log"

	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
	"github.com/neckchi/scheduleapi/pkg/work"
)

// Query is one point-to-point search as seen by an adapter. StartDate is
// the departure or arrival anchor according to StartDateType.
type Query struct {
	SCAC          sched.CarrierCode
	Origin        string
	Destination   string
	StartDateType sched.StartDateType
	StartDate     time.Time
	SearchRange   sched.SearchRange
	DirectOnly    *bool
	VesselIMO     string
	Service       string
	TSP           string
}

// Window returns the inclusive search window as date strings: the anchor
// date and the anchor plus the search range.
func (q *Query) Window() (from, to string) {
	from = q.StartDate.Format(sched.DateLayout)
	to = q.StartDate.AddDate(0, 0, q.SearchRange.Days()).Format(sched.DateLayout)
	return from, to
}

// Accepts applies the shared filter predicates to a normalized schedule.
func (q *Query) Accepts(s sched.Schedule) bool {
	if q.DirectOnly != nil && *q.DirectOnly == s.Transshipment {
		return false
	}
	if q.Service != "" && !hasService(s, q.Service) {
		return false
	}
	if q.VesselIMO != "" && !hasVesselIMO(s, q.VesselIMO) {
		return false
	}
	if q.TSP != "" && !callsAtTSP(s, q.TSP) {
		return false
	}
	return true
}

// Filter returns the schedules admitted by the query's filter predicates.
func Filter(in []sched.Schedule, q *Query) []sched.Schedule {
	out := make([]sched.Schedule, 0, len(in))
	for _, s := range in {
		if q.Accepts(s) {
			out = append(out, s)
		}
	}
	return out
}

// hasService reports whether any leg sailing under a voyage carries the
// requested service code.
func hasService(s sched.Schedule, service string) bool {
	for _, leg := range s.Legs {
		if leg.Voyages != nil && leg.Services != nil && leg.Services.ServiceCode == service {
			return true
		}
	}
	return false
}

func hasVesselIMO(s sched.Schedule, imo string) bool {
	for _, leg := range s.Legs {
		if leg.Transportations.Reference != nil && *leg.Transportations.Reference == imo {
			return true
		}
	}
	return false
}

// callsAtTSP reports whether the route transships via the given port: some
// leg after the first departs from it.
func callsAtTSP(s sched.Schedule, tsp string) bool {
	if len(s.Legs) < 2 {
		return false
	}
	for _, leg := range s.Legs[1:] {
		if leg.PointFrom.LocationCode == tsp {
			return true
		}
	}
	return false
}

// TriState renders an optional boolean for cache-key material, with an
// explicit placeholder for the unset case.
func TriState(b *bool) string {
	if b == nil {
		return "none"
	}
	if *b {
		return "true"
	}
	return "false"
}

// OrNone substitutes a placeholder for empty cache-key material so distinct
// filter combinations never collide.
func OrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// TitleCase normalizes a single carrier token to leading-capital form, e.g.
// "VESSEL" to "Vessel".
func TitleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// NormalizeTransport maps a raw carrier conveyance string through the
// adapter's table, falling back to def for anything unrecognized.
func NormalizeTransport(raw string, table map[string]sched.TransportType, def sched.TransportType) sched.TransportType {
	if t, ok := table[raw]; ok {
		return t
	}
	return def
}

// Deps bundles the shared plumbing every adapter is built with.
type Deps struct {
	Fetch          *fetch.Client
	Cache          cache.Cache
	Background     *work.Pool
	Logger         log.Logger
	ScheduleExpiry time.Duration
}

// Adapter is one carrier integration. Fetch returns normalized, filtered
// schedules for the query; transport errors propagate so the task manager
// can retry, while upstream "no result" conditions return an empty slice.
type Adapter interface {
	Name() string
	SCACs() []sched.CarrierCode
	Fetch(ctx context.Context, q *Query) ([]sched.Schedule, error)
}

// Registry resolves a request SCAC to its owning adapter. A SCAC with no
// adapter (CSFU) resolves to nothing and yields the empty envelope.
type Registry struct {
	byCode map[sched.CarrierCode]Adapter
	order  []Adapter
}

// NewRegistry indexes adapters by every SCAC they own, keeping registration
// order for fan-out.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byCode: make(map[sched.CarrierCode]Adapter)}
	for _, a := range adapters {
		r.order = append(r.order, a)
		for _, code := range a.SCACs() {
			r.byCode[code] = a
		}
	}
	return r
}

// For returns the adapter owning the given SCAC.
func (r *Registry) For(code sched.CarrierCode) (Adapter, bool) {
	a, ok := r.byCode[code]
	return a, ok
}

// Select returns the adapters a request fans out to: every registered
// adapter when no SCAC is given, otherwise just the owning one.
func (r *Registry) Select(code sched.CarrierCode) []Adapter {
	if code == "" {
		return r.order
	}
	if a, ok := r.byCode[code]; ok {
		return []Adapter{a}
	}
	return nil
}
