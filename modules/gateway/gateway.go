// Package gateway is the outer HTTP layer: route registration, basic auth,
// correlation IDs and query decoding. Everything behind it speaks
// carrier.Query; everything in front of it speaks the public API.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/neckchi/scheduleapi/modules/aggregator"
	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

var metricRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scheduleapi",
	Name:      "gateway_requests_total",
	Help:      "Total number of schedule requests by status code.",
}, []string{"status_code"})

// UN/LOCODE: two-letter country, three alphanumerics.
var locodePattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}$`)

// Config holds the outer layer settings.
type Config struct {
	BasicAuthEnabled bool `yaml:"basic_auth_enabled"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.BasicAuthEnabled, prefix+"gateway.basic-auth-enabled", true, "Require basic auth on the schedule endpoint.")
}

// Aggregator is the part of the search pipeline the gateway calls.
type Aggregator interface {
	Product(ctx context.Context, q *carrier.Query) (*aggregator.Result, error)
}

// Handler serves the public API.
type Handler struct {
	cfg        Config
	aggregator Aggregator
	auth       settings.BasicAuth
	logger     log.Logger
}

// NewHandler builds the public API handler.
func NewHandler(cfg Config, agg Aggregator, auth settings.BasicAuth, logger log.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		aggregator: agg,
		auth:       auth,
		logger:     logger,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(CorrelationID)

	schedules := http.Handler(http.HandlerFunc(h.SchedulesHandler))
	if h.cfg.BasicAuthEnabled {
		schedules = BasicAuth(h.auth, schedules)
	}
	r.Handle("/schedules/p2p", schedules).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", h.HealthzHandler).Methods("GET")
}

// SchedulesHandler serves one point-to-point search. Invalid parameters
// return 422; an empty result is still a 200 with the not-found envelope.
func (h *Handler) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := log.With(h.logger, "correlation_id", CorrelationIDFrom(r.Context()))

	q, err := decodeQuery(r.URL.Query())
	if err != nil {
		level.Info(logger).Log("msg", "rejected schedule request", "err", err)
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := h.aggregator.Product(r.Context(), q)
	if err != nil {
		level.Error(logger).Log("msg", "schedule request failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", res.CacheControl())
	w.Header().Set("KN-Count-Schedules", strconv.Itoa(res.Count))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
	metricRequestsTotal.WithLabelValues("200").Inc()

	level.Info(logger).Log("msg", "served schedules",
		"origin", q.Origin, "destination", q.Destination, "scac", carrier.OrNone(string(q.SCAC)),
		"count", res.Count, "cached", res.Cached, "elapsed", time.Since(start))
}

// HealthzHandler reports liveness.
func (h *Handler) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoniter.NewEncoder(w).Encode(detailResponse{Detail: msg})
	metricRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// decodeQuery validates the public query parameters and assembles the
// carrier query. Every problem is reported, not just the first.
func decodeQuery(values url.Values) (*carrier.Query, error) {
	var errs []error
	q := &carrier.Query{}

	q.Origin = values.Get("pointFrom")
	if !locodePattern.MatchString(q.Origin) {
		errs = append(errs, fmt.Errorf("pointFrom must be a UN/LOCODE, got %q", q.Origin))
	}
	q.Destination = values.Get("pointTo")
	if !locodePattern.MatchString(q.Destination) {
		errs = append(errs, fmt.Errorf("pointTo must be a UN/LOCODE, got %q", q.Destination))
	}

	dateType, err := sched.ParseStartDateType(values.Get("startDateType"))
	if err != nil {
		errs = append(errs, err)
	}
	q.StartDateType = dateType

	if v := values.Get("startDate"); v == "" {
		errs = append(errs, fmt.Errorf("startDate is required"))
	} else if q.StartDate, err = time.Parse(sched.DateLayout, v); err != nil {
		errs = append(errs, fmt.Errorf("startDate must be formatted %s, got %q", sched.DateLayout, v))
	}

	q.SearchRange, err = sched.ParseSearchRange(values.Get("searchRange"))
	if err != nil {
		errs = append(errs, err)
	}

	if v := values.Get("scac"); v != "" {
		if q.SCAC, err = sched.ParseCarrierCode(v); err != nil {
			errs = append(errs, err)
		}
	}
	if v := values.Get("directOnly"); v != "" {
		direct, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("directOnly must be true or false, got %q", v))
		} else {
			q.DirectOnly = &direct
		}
	}
	q.VesselIMO = values.Get("vesselIMO")
	q.Service = values.Get("service")
	q.TSP = values.Get("tsp")

	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	return q, nil
}
