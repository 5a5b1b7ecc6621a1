package fetch

import (
	"flag"
	"fmt"
	"time"
)

// Config holds the shared upstream connection pool settings. The camelCase
// yaml names are the ones operators already ship in the deployment
// configmap.
type Config struct {
	MaxClientConnection    int           `yaml:"maxClientConnection"`
	MaxKeepAliveConnection int           `yaml:"maxKeepAliveConnection"`
	KeepAliveExpiry        time.Duration `yaml:"keepAliveExpiry"`
	ConnectTimeOut         time.Duration `yaml:"connectTimeOut"`
	ElswhereTimeOut        time.Duration `yaml:"elswhereTimeOut"`

	// Hedging re-issues slow idempotent GETs to shave tail latency.
	// Zero disables it.
	HedgeRequestsAt   time.Duration `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxClientConnection, prefix+"upstream.max-client-connection", 100, "Maximum connections per carrier host.")
	f.IntVar(&cfg.MaxKeepAliveConnection, prefix+"upstream.max-keep-alive-connection", 20, "Maximum idle keep-alive connections per carrier host.")
	f.DurationVar(&cfg.KeepAliveExpiry, prefix+"upstream.keep-alive-expiry", 60*time.Second, "How long an idle connection stays open.")
	f.DurationVar(&cfg.ConnectTimeOut, prefix+"upstream.connect-time-out", 10*time.Second, "Dial and TLS handshake timeout.")
	f.DurationVar(&cfg.ElswhereTimeOut, prefix+"upstream.elswhere-time-out", 35*time.Second, "Overall per-request timeout on the shared client.")
	f.DurationVar(&cfg.HedgeRequestsAt, prefix+"upstream.hedge-requests-at", 0, "If set, hedge idempotent requests after this duration. 0 disables hedging.")
	f.IntVar(&cfg.HedgeRequestsUpTo, prefix+"upstream.hedge-requests-up-to", 2, "Maximum number of hedged requests per original request.")
}

// Validate checks the pool configuration.
func (cfg *Config) Validate() error {
	if cfg.HedgeRequestsAt != 0 && cfg.HedgeRequestsUpTo < 1 {
		return fmt.Errorf("hedge_requests_up_to must be at least 1 when hedging is enabled")
	}
	if cfg.MaxClientConnection < 1 {
		return fmt.Errorf("maxClientConnection must be positive")
	}
	return nil
}
