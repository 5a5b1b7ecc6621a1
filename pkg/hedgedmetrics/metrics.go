// Package hedgedmetrics bridges hedged transport statistics into a
// prometheus counter.
package hedgedmetrics

import (
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
)

const publishDuration = 10 * time.Second

// Publish flushes the hedged request count to the counter on a fixed
// cadence. Only round trips beyond the requested ones count as hedges.
func Publish(s *hedgedhttp.Stats, counter prometheus.Counter) {
	ticker := time.NewTicker(publishDuration)
	go func() {
		previous := hedges(s)
		for range ticker.C {
			current := hedges(s)
			if diff := current - previous; diff > 0 {
				counter.Add(float64(diff))
			}
			previous = current
		}
	}()
}

func hedges(s *hedgedhttp.Stats) int64 {
	snap := s.Snapshot()
	return int64(snap.ActualRoundTrips) - int64(snap.RequestedRoundTrips)
}
