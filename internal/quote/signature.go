package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/protection"
)

var (
	// ErrKeyNotFound is returned when the JWS key ID is absent from the
	// edge key set.
	ErrKeyNotFound = errors.New("quote: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while
	// refreshing the edge key set.
	ErrJWKSFetchFailed = errors.New("quote: jwks fetch failed")
	// ErrSignatureMissing is returned when a server quote arrives
	// without a signature block.
	ErrSignatureMissing = errors.New("quote: signature missing")
	// ErrSignatureExpired is returned when the quote is presented
	// outside its validity window.
	ErrSignatureExpired = errors.New("quote: signature outside validity window")
	// ErrSignatureInvalid covers JWS parse and verification failures.
	ErrSignatureInvalid = errors.New("quote: signature invalid")
)

const defaultJWKSRefreshInterval = 15 * time.Minute

// JWKSCache lazily fetches and caches the edge quote-signing keys.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time
	ttl    time.Duration

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used for key fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSTTL overrides how long a fetched key set is reused.
func WithJWKSTTL(ttl time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithJWKSClock injects a custom time source for tests.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a cache for the provided key-set URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: defaultEdgeTimeout},
		now:    time.Now,
		ttl:    defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Key resolves the public key for kid, refreshing the set if required.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cachedKey(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (c *JWKSCache) cachedKey(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxQuoteBodySize)).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// Verifier validates server quote signatures against the edge key set.
type Verifier struct {
	jwks   *JWKSCache
	now    func() time.Time
	logger *zap.Logger
}

// NewVerifier constructs a verifier around a JWKS cache. A nil logger
// is replaced with a nop, a nil clock with time.Now.
func NewVerifier(jwks *JWKSCache, logger *zap.Logger, now func() time.Time) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{jwks: jwks, now: now, logger: logger}
}

// Verify checks that a server quote carries a signature, that the
// current time falls inside its validity window, and that the JWS
// verifies against the published edge keys.
func (v *Verifier) Verify(ctx context.Context, sig *protection.QuoteSignature) error {
	if sig == nil || sig.JWS == "" {
		return ErrSignatureMissing
	}

	now := v.now().Unix()
	if sig.CreatedAt > 0 && now < sig.CreatedAt {
		return fmt.Errorf("%w: not yet valid", ErrSignatureExpired)
	}
	if sig.ExpiresAt > 0 && now >= sig.ExpiresAt {
		return ErrSignatureExpired
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	_, err := parser.Parse(sig.JWS, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token missing kid header", ErrSignatureInvalid)
		}
		return v.jwks.Key(ctx, kid)
	})
	if err != nil {
		v.logger.Warn("quote signature rejected", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}
