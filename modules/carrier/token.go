package carrier

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/oauth2"

	"github.com/neckchi/scheduleapi/pkg/cache"
)

// TokenTTL is how long fetched bearer tokens stay cached, strictly below
// every issuer's validity window.
const TokenTTL = 55 * time.Minute

// TokenSource hands out a bearer token for one carrier identity endpoint,
// like oauth2.TokenSource but context-aware.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Caches carrier bearer tokens in the shared response cache so competing
// requests and replicas reuse one grant. Concurrent refreshes race benignly:
// tokens are idempotent within validity, last write wins.
type cachedTokenSource struct {
	cache    cache.Cache
	key      string
	fetch    func(ctx context.Context) (*oauth2.Token, error)
	logger   log.Logger
	tokenTTL time.Duration
}

// NewTokenSource builds a TokenSource caching under the given namespace.
// The cache key is derived from the namespace and the client identity so
// distinct credentials never share a grant.
func NewTokenSource(c cache.Cache, namespace, clientID string, fetch func(ctx context.Context) (*oauth2.Token, error), logger log.Logger) TokenSource {
	return &cachedTokenSource{
		cache:    c,
		key:      cache.Key(namespace, clientID),
		fetch:    fetch,
		logger:   logger,
		tokenTTL: TokenTTL,
	}
}

func (s *cachedTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	if s.cache != nil {
		if val, ok := s.cache.FetchKey(ctx, s.key); ok {
			return &oauth2.Token{AccessToken: string(val)}, nil
		}
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Store(ctx, s.key, []byte(tok.AccessToken), s.tokenTTL)
		level.Debug(s.logger).Log("msg", "refreshed carrier token", "key", s.key)
	}
	return tok, nil
}
