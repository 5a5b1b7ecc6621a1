// Package settings reads the externally provisioned carrier endpoints and
// credentials from the environment. Everything here is required at startup:
// a missing variable is a deployment mistake, and all of them are reported
// together in one error instead of one failed boot per variable.
package settings

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/grafana/dskit/flagext"
	"go.uber.org/multierr"
)

// Settings is the full registry of environment-provisioned configuration.
// It is loaded once and never mutated afterwards.
type Settings struct {
	CMA        CMA
	Sudu       Sudu
	HMM        HMM
	IQAX       IQAX
	Maersk     Maersk
	ONE        ONE
	ZIM        ZIM
	MSC        MSC
	HapagLloyd HapagLloyd
	Redis      Redis
	Basic      BasicAuth
}

// CMA covers the CMA CGM group gateway (CMDU, ANNU, CHNL, APLU).
type CMA struct {
	URL   string
	Token flagext.Secret
}

// Sudu covers the Hamburg Süd gateway (SUDU, ANRM).
type Sudu struct {
	URL   string
	Token flagext.Secret
}

// HMM covers the Hyundai Merchant Marine gateway (HDMU).
type HMM struct {
	URL   string
	Token flagext.Secret
}

// IQAX covers the IQAX gateway serving OOCL and COSCO (OOLU, COSU).
type IQAX struct {
	URL   string
	Token flagext.Secret
}

// Maersk covers the Maersk family (MAEU, MAEI, SEAU, SEJJ, MCPU) with its
// split point-to-point, location and deadline endpoints.
type Maersk struct {
	P2PURL      string
	LocationURL string
	CutoffURL   string
	Token       flagext.Secret
	Token2      flagext.Secret
}

// ONE covers Ocean Network Express (ONEY).
type ONE struct {
	URL      string
	TokenURL string
	Token    flagext.Secret
	Auth     flagext.Secret
}

// ZIM covers the ZIM gateway (ZIMU).
type ZIM struct {
	URL      string
	TokenURL string
	Token    flagext.Secret
	Client   string
	Secret   flagext.Secret
}

// MSC covers the Mediterranean Shipping Company gateway (MSCU), which
// authenticates with a signed client assertion instead of a static token.
type MSC struct {
	URL        string
	Audience   string
	OAuthURL   string
	Client     string
	Thumbprint string
	Scope      string
	RSAKey     flagext.Secret
}

// HapagLloyd covers the Hapag-Lloyd gateway (HLCU).
type HapagLloyd struct {
	URL          string
	ClientID     string
	ClientSecret flagext.Secret
}

// Redis locates the shared response cache.
type Redis struct {
	Host     string
	Port     string
	DB       int
	User     string
	Password flagext.Secret
}

// Addr returns the host:port endpoint for the cache client.
func (r Redis) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// BasicAuth guards the public schedule endpoint.
type BasicAuth struct {
	User     string
	Password flagext.Secret
}

var (
	loadOnce sync.Once
	loaded   *Settings
	loadErr  error
)

// Load reads the registry from the process environment. The result is
// cached; subsequent calls return the same value.
func Load() (*Settings, error) {
	loadOnce.Do(func() {
		loaded, loadErr = FromEnv(os.LookupEnv)
	})
	return loaded, loadErr
}

// FromEnv reads the registry through the given lookup function. Every
// missing or malformed variable contributes to the combined error.
func FromEnv(lookup func(string) (string, bool)) (*Settings, error) {
	r := &reader{lookup: lookup}

	s := &Settings{
		CMA: CMA{
			URL:   r.required("CMA_URL"),
			Token: r.secret("CMA_TOKEN"),
		},
		Sudu: Sudu{
			URL:   r.required("SUDU_URL"),
			Token: r.secret("SUDU_TOKEN"),
		},
		HMM: HMM{
			URL:   r.required("HMM_URL"),
			Token: r.secret("HMM_TOKEN"),
		},
		IQAX: IQAX{
			URL:   r.required("IQAX_URL"),
			Token: r.secret("IQAX_TOKEN"),
		},
		Maersk: Maersk{
			P2PURL:      r.required("MAEU_P2P"),
			LocationURL: r.required("MAEU_LOCATION"),
			CutoffURL:   r.required("MAEU_CUTOFF"),
			Token:       r.secret("MAEU_TOKEN"),
			Token2:      r.secret("MAEU_TOKEN2"),
		},
		ONE: ONE{
			URL:      r.required("ONEY_URL"),
			TokenURL: r.required("ONEY_TURL"),
			Token:    r.secret("ONEY_TOKEN"),
			Auth:     r.secret("ONEY_AUTH"),
		},
		ZIM: ZIM{
			URL:      r.required("ZIM_URL"),
			TokenURL: r.required("ZIM_TURL"),
			Token:    r.secret("ZIM_TOKEN"),
			Client:   r.required("ZIM_CLIENT"),
			Secret:   r.secret("ZIM_SECRET"),
		},
		MSC: MSC{
			URL:        r.required("MSCU_URL"),
			Audience:   r.required("MSCU_AUD"),
			OAuthURL:   r.required("MSCU_OAUTH"),
			Client:     r.required("MSCU_CLIENT"),
			Thumbprint: r.required("MSCU_THUMBPRINT"),
			Scope:      r.required("MSCU_SCOPE"),
			RSAKey:     r.secret("MSCU_RSA_KEY"),
		},
		HapagLloyd: HapagLloyd{
			URL:          r.required("HLCU_URL"),
			ClientID:     r.required("HLCU_CLIENT_ID"),
			ClientSecret: r.secret("HLCU_CLIENT_SECRET"),
		},
		Redis: Redis{
			Host:     r.required("REDIS_HOST"),
			Port:     r.required("REDIS_PORT"),
			DB:       r.integer("REDIS_DB"),
			User:     r.required("REDIS_USER"),
			Password: r.secret("REDIS_PW"),
		},
		Basic: BasicAuth{
			User:     r.required("BASIC_USER"),
			Password: r.secret("BASIC_PW"),
		},
	}

	if err := multierr.Combine(r.errs...); err != nil {
		return nil, err
	}
	return s, nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) required(name string) string {
	v, ok := r.lookup(name)
	if !ok || v == "" {
		r.errs = append(r.errs, fmt.Errorf("missing required environment variable %s", name))
	}
	return v
}

func (r *reader) secret(name string) flagext.Secret {
	return flagext.SecretWithValue(r.required(name))
}

func (r *reader) integer(name string) int {
	v := r.required(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("environment variable %s must be an integer: %v", name, err))
		return 0
	}
	return n
}
