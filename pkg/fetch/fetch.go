// Package fetch is the single place the service talks HTTP to carrier
// endpoints. Every adapter goes through one shared Client so connection
// pooling, hedging, instrumentation and response caching behave the same
// for all carriers.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/hedgedmetrics"
	"github.com/neckchi/scheduleapi/pkg/work"
)

var metricUpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "scheduleapi",
	Name:      "upstream_request_duration_seconds",
	Help:      "Time spent on requests to carrier endpoints.",
	Buckets:   prometheus.DefBuckets,
}, []string{"carrier", "status_code"})

var metricHedgedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scheduleapi",
	Name:      "upstream_hedged_requests_total",
	Help:      "Total number of hedged requests issued to carrier endpoints.",
})

// Request describes one upstream call. Name is the carrier SCAC and labels
// the metrics and the log lines.
type Request struct {
	Name    string
	Method  string
	URL     string
	Params  url.Values
	Headers map[string]string
	JSON    interface{}
	Form    url.Values

	// CacheKey, when set, asks the client to store the raw 200 response
	// body in the background so the next identical request can skip the
	// carrier entirely.
	CacheKey string
	CacheTTL time.Duration
}

// Result reports what a completed call produced. OK is true only for a
// fully decoded 200. Partial carries an unconsumed 206 response whose body
// the caller owns.
type Result struct {
	OK      bool
	Partial *http.Response
}

// Client is the shared upstream HTTP client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cache      cache.Cache
	pool       *work.Pool
	logger     log.Logger
}

// NewClient builds the shared client from the pool configuration. cache and
// pool may be nil, in which case 200 responses are simply not cached.
func NewClient(cfg Config, c cache.Cache, pool *work.Pool, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeOut}
	var transport http.RoundTripper = &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeOut,
		MaxConnsPerHost:       cfg.MaxClientConnection,
		MaxIdleConns:          cfg.MaxClientConnection,
		MaxIdleConnsPerHost:   cfg.MaxKeepAliveConnection,
		IdleConnTimeout:       cfg.KeepAliveExpiry,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.HedgeRequestsAt != 0 {
		var (
			stats *hedgedhttp.Stats
			err   error
		)
		transport, stats, err = hedgedhttp.NewRoundTripperAndStats(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, transport)
		if err != nil {
			return nil, fmt.Errorf("creating hedged transport: %w", err)
		}
		hedgedmetrics.Publish(stats, metricHedgedRequestsTotal)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.ElswhereTimeOut,
			Transport: otelhttp.NewTransport(transport),
		},
		cache:  c,
		pool:   pool,
		logger: logger,
	}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s url: %w", req.Name, err)
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, vs := range req.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		b, err := jsoniter.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request body: %w", req.Name, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Do performs the request and decodes a 200 response into out. A 206 is
// handed back unconsumed through Result.Partial. Server failures (500, 502)
// are logged as critical and reported as an absent result rather than an
// error so one broken carrier cannot sink a gather across many.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) (*Result, error) {
	start := time.Now()
	statusCode := "error"
	defer func() {
		metricUpstreamRequestDuration.WithLabelValues(req.Name, statusCode).Observe(time.Since(start).Seconds())
	}()

	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", req.Name, err)
	}
	statusCode = strconv.Itoa(resp.StatusCode)

	level.Debug(c.logger).Log("msg", "upstream response", "carrier", req.Name, "method", req.Method, "url", req.URL, "status", resp.StatusCode, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", req.Name, err)
		}
		c.storeInBackground(req, body)
		if out != nil {
			if err := jsoniter.Unmarshal(body, out); err != nil {
				return nil, fmt.Errorf("decoding %s response: %w", req.Name, err)
			}
		}
		return &Result{OK: true}, nil

	case resp.StatusCode == http.StatusPartialContent:
		// Paged responses are consumed by the adapter, which also owns
		// closing the body.
		return &Result{Partial: resp}, nil

	case resp.StatusCode == http.StatusInternalServerError || resp.StatusCode == http.StatusBadGateway:
		drainAndClose(resp.Body)
		level.Error(c.logger).Log("msg", "carrier endpoint failure", "carrier", req.Name, "url", req.URL, "status", resp.StatusCode, "critical", true)
		return &Result{}, nil

	default:
		drainAndClose(resp.Body)
		return &Result{}, nil
	}
}

// storeInBackground queues a raw response body for caching without blocking
// the response path.
func (c *Client) storeInBackground(req Request, body []byte) {
	if req.CacheKey == "" || c.cache == nil || c.pool == nil {
		return
	}
	key, ttl := req.CacheKey, req.CacheTTL
	buf := make([]byte, len(body))
	copy(buf, body)
	c.pool.Enqueue(func(ctx context.Context) {
		c.cache.Store(ctx, key, buf, ttl)
	})
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
