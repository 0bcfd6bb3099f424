package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// TokenCacheKey is where the shared upstream access token lives in Redis.
const TokenCacheKey = "felanmalan:upstream:token"

const (
	tokenExpiryMargin  = 30 * time.Second
	tokenDefaultExpiry = 5 * time.Minute
)

// TokenProvider supplies bearer tokens for the upstream API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type staticTokenProvider struct{ token string }

// NewStaticTokenProvider returns a provider that always yields token. An empty
// token disables the Authorization header (local development).
func NewStaticTokenProvider(token string) TokenProvider {
	return staticTokenProvider{token: token}
}

func (p staticTokenProvider) Token(context.Context) (string, error) { return p.token, nil }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type oauthTokenProvider struct {
	http         *resty.Client
	tokenURL     string
	clientKey    string
	clientSecret string
	rdb          *redis.Client
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewOAuthTokenProvider fetches client-credentials tokens from tokenURL. Tokens are
// kept in memory and, when rdb is non-nil, shared through Redis until shortly
// before they expire.
func NewOAuthTokenProvider(tokenURL, clientKey, clientSecret string, rdb *redis.Client, timeout time.Duration, logger *slog.Logger) TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &oauthTokenProvider{
		http:         resty.New().SetTimeout(timeout).SetDisableWarn(true),
		tokenURL:     tokenURL,
		clientKey:    clientKey,
		clientSecret: clientSecret,
		rdb:          rdb,
		logger:       logger,
		now:          time.Now,
	}
}

func (p *oauthTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && now.Before(p.expiresAt) {
		return p.token, nil
	}

	if tok, ttl, ok := p.fromCache(ctx); ok {
		p.token, p.expiresAt = tok, now.Add(ttl)
		return tok, nil
	}

	tok, lifetime, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	ttl := lifetime - tokenExpiryMargin
	if ttl <= 0 {
		ttl = time.Second
	}
	p.token, p.expiresAt = tok, now.Add(ttl)

	if p.rdb != nil {
		if err := p.rdb.Set(ctx, TokenCacheKey, tok, ttl).Err(); err != nil {
			p.logger.Warn("token cache write failed", "err", err)
		}
	}
	return tok, nil
}

func (p *oauthTokenProvider) fromCache(ctx context.Context) (string, time.Duration, bool) {
	if p.rdb == nil {
		return "", 0, false
	}
	pipe := p.rdb.Pipeline()
	getCmd := pipe.Get(ctx, TokenCacheKey)
	ttlCmd := pipe.PTTL(ctx, TokenCacheKey)
	if _, err := pipe.Exec(ctx); err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("token cache read failed", "err", err)
		}
		return "", 0, false
	}
	tok := getCmd.Val()
	ttl := ttlCmd.Val()
	if tok == "" || ttl <= 0 {
		return "", 0, false
	}
	return tok, ttl, true
}

func (p *oauthTokenProvider) fetch(ctx context.Context) (string, time.Duration, error) {
	var out tokenResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetBasicAuth(p.clientKey, p.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&out).
		Post(p.tokenURL)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", 0, fmt.Errorf("token request: status %d", resp.StatusCode())
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", 0, errors.New("token request: empty access_token")
	}

	lifetime := time.Duration(out.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = jwtLifetime(out.AccessToken, p.now())
	}
	return out.AccessToken, lifetime, nil
}

// jwtLifetime reads the exp claim of a JWT access token without verifying it.
// Opaque tokens fall back to a short default.
func jwtLifetime(token string, now time.Time) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenDefaultExpiry
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return tokenDefaultExpiry
	}
	if d := exp.Time.Sub(now); d > 0 {
		return d
	}
	return 0
}
