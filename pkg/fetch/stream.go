package fetch

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
)

const (
	streamInitialBufferSize = 64 * 1024
	streamMaxRecordSize     = 1024 * 1024
)

// Stream iterates over a newline-delimited JSON response one record at a
// time. The returned record bytes are only valid until the next call to
// Next.
type Stream struct {
	resp    *http.Response
	scanner *bufio.Scanner
	record  []byte
	err     error
	closed  bool
}

// Stream performs the request against a newline-delimited JSON endpoint.
// Any status other than 200 yields an empty stream, with server failures
// logged the same way Do logs them. The stream closes itself once exhausted;
// calling Close again is harmless.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
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

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusInternalServerError || resp.StatusCode == http.StatusBadGateway {
			level.Error(c.logger).Log("msg", "carrier endpoint failure", "carrier", req.Name, "url", req.URL, "status", resp.StatusCode, "critical", true)
		}
		drainAndClose(resp.Body)
		return &Stream{closed: true}, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, streamInitialBufferSize), streamMaxRecordSize)
	return &Stream{resp: resp, scanner: scanner}, nil
}

// Next advances to the next non-empty record. It returns false once the
// stream is exhausted or broken, closing the underlying body either way.
func (s *Stream) Next() bool {
	if s.closed {
		return false
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.record = line
		return true
	}
	s.err = s.scanner.Err()
	s.Close()
	return false
}

// Record returns the current record.
func (s *Stream) Record() []byte {
	return s.record
}

// Err reports a mid-stream read failure, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying response body. It is safe to call more than
// once and after exhaustion.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.resp != nil {
		drainAndClose(s.resp.Body)
	}
}
