// Package httpclient is a typed client for the schedule API, for services
// that consume aggregated schedules without hand-rolling the query string.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/neckchi/scheduleapi/pkg/sched"
)

const (
	// SchedulesEndpoint serves point-to-point searches.
	SchedulesEndpoint = "/schedules/p2p"
	// HealthzEndpoint reports liveness.
	HealthzEndpoint = "/healthz"
)

// ErrNotFound is returned when the searched lane has no schedules.
var ErrNotFound = errors.New("schedule not found")

// Client is a client to the schedule API.
type Client struct {
	BaseURL string
	client  *http.Client

	username string
	password string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{},
	}
}

// WithBasicAuth sets the credential pair sent with every request.
func (c *Client) WithBasicAuth(username, password string) {
	c.username = username
	c.password = password
}

func (c *Client) WithTransport(t http.RoundTripper) {
	c.client.Transport = t
}

// SearchRequest carries the public query parameters of one search.
type SearchRequest struct {
	PointFrom     string
	PointTo       string
	StartDateType sched.StartDateType
	StartDate     time.Time
	SearchRange   sched.SearchRange

	SCAC       sched.CarrierCode
	DirectOnly *bool
	VesselIMO  string
	Service    string
	TSP        string
}

func (r *SearchRequest) values() url.Values {
	v := url.Values{}
	v.Set("pointFrom", r.PointFrom)
	v.Set("pointTo", r.PointTo)
	v.Set("startDateType", string(r.StartDateType))
	v.Set("startDate", r.StartDate.Format(sched.DateLayout))
	v.Set("searchRange", strconv.Itoa(int(r.SearchRange)))
	if r.SCAC != "" {
		v.Set("scac", string(r.SCAC))
	}
	if r.DirectOnly != nil {
		v.Set("directOnly", strconv.FormatBool(*r.DirectOnly))
	}
	if r.VesselIMO != "" {
		v.Set("vesselIMO", r.VesselIMO)
	}
	if r.Service != "" {
		v.Set("service", r.Service)
	}
	if r.TSP != "" {
		v.Set("tsp", r.TSP)
	}
	return v
}

// Schedules runs one point-to-point search. A lane with no schedules
// returns ErrNotFound carrying the server's details.
func (c *Client) Schedules(ctx context.Context, sr SearchRequest) (*sched.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+SchedulesEndpoint+"?"+sr.values().Encode(), nil)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	// An empty lane is still a 200; only the envelope shape tells it apart.
	var envelope sched.ErrorEnvelope
	if err := jsoniter.Unmarshal(body, &envelope); err == nil && envelope.Details != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, envelope.Details)
	}

	product := &sched.Product{}
	if err := jsoniter.Unmarshal(body, product); err != nil {
		return nil, fmt.Errorf("error decoding product, err: %v body: %s", err, string(body))
	}
	return product, nil
}

// Ready probes the liveness endpoint.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+HealthzEndpoint, nil)
	if err != nil {
		return err
	}
	_, err = c.doRequest(req)
	return err
}

// doRequest sends the given request, it injects the credential pair and
// handles bad status codes.
func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error querying schedule API %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode <= 599 {
		return nil, fmt.Errorf("%s request to %s failed with response: %d body: %s", req.Method, req.URL.String(), resp.StatusCode, string(body))
	}

	return body, nil
}
