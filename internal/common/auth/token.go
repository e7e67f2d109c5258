package auth

import (
	"context"
	"sync"
	"time"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
)

// MinSafetyMargin is the shortest remaining lifetime a cached token may have
// and still be handed out.
const MinSafetyMargin = 5 * time.Minute

// Token is a bearer token with its absolute expiry.
type Token struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ValidAt reports whether the token is usable at now with margin to spare.
func (t *Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t != nil && t.AccessToken != "" && now.Add(margin).Before(t.ExpiresAt)
}

// TokenFetcher performs one credential exchange.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (*Token, error)
}

// TokenFetcherFunc adapts a function to TokenFetcher.
type TokenFetcherFunc func(ctx context.Context) (*Token, error)

func (f TokenFetcherFunc) FetchToken(ctx context.Context) (*Token, error) { return f(ctx) }

// TokenStore shares tokens between replicas. LoadToken returns nil, nil when
// nothing is stored.
type TokenStore interface {
	LoadToken(ctx context.Context, key string) (*Token, error)
	SaveToken(ctx context.Context, key string, tok *Token) error
	DeleteToken(ctx context.Context, key string) error
}

// CredentialProvider hands out bearer tokens to API clients.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// StaticCredentials always returns the same token. Used in tests and for
// long-lived API keys.
type StaticCredentials string

func (s StaticCredentials) AccessToken(context.Context) (string, error) { return string(s), nil }

func (s StaticCredentials) Invalidate(context.Context) {}

// TokenCache caches one service's token until it is within the safety margin
// of expiry. Refreshes are serialized so concurrent callers share one exchange.
type TokenCache struct {
	name    string
	fetcher TokenFetcher
	margin  time.Duration
	store   TokenStore
	log     logger.Logger
	now     func() time.Time

	mu    sync.Mutex
	token *Token
}

type CacheOption func(*TokenCache)

func WithStore(store TokenStore) CacheOption {
	return func(c *TokenCache) { c.store = store }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *TokenCache) { c.now = now }
}

// NewTokenCache builds a cache for name. Margins below MinSafetyMargin are raised to it.
func NewTokenCache(name string, fetcher TokenFetcher, margin time.Duration, log logger.Logger, opts ...CacheOption) *TokenCache {
	if margin < MinSafetyMargin {
		margin = MinSafetyMargin
	}
	c := &TokenCache{
		name:    name,
		fetcher: fetcher,
		margin:  margin,
		log:     logger.Component(log, "token-cache").WithFields(map[string]interface{}{"service": name}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token returns a cached token or performs a single exchange.
func (c *TokenCache) Token(ctx context.Context) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token.ValidAt(now, c.margin) {
		return c.token, nil
	}

	if c.store != nil {
		stored, err := c.store.LoadToken(ctx, c.name)
		if err != nil {
			c.log.Warn("Token store read failed", map[string]interface{}{"error": err})
		} else if stored.ValidAt(now, c.margin) {
			c.token = stored
			return stored, nil
		}
	}

	tok, err := c.fetcher.FetchToken(ctx)
	if err != nil {
		c.token = nil
		if stdErr, ok := apperrors.AsStandard(err); ok && stdErr.Code == apperrors.ErrCodeAuth {
			return nil, stdErr
		}
		return nil, apperrors.NewAuthError(c.name, 0, "", err)
	}
	if !tok.ValidAt(now, c.margin) {
		c.log.Warn("Issued token lifetime is shorter than the safety margin", map[string]interface{}{
			"expiresAt": tok.ExpiresAt,
			"margin":    c.margin.String(),
		})
	}

	c.token = tok
	if c.store != nil {
		if err := c.store.SaveToken(ctx, c.name, tok); err != nil {
			c.log.Warn("Token store write failed", map[string]interface{}{"error": err})
		}
	}
	c.log.Debug("Token refreshed", map[string]interface{}{"expiresAt": tok.ExpiresAt})
	return tok, nil
}

// Invalidate drops the cached token, for example after a 401 from the API.
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = nil
	if c.store != nil {
		if err := c.store.DeleteToken(ctx, c.name); err != nil {
			c.log.Warn("Token store delete failed", map[string]interface{}{"error": err})
		}
	}
}
