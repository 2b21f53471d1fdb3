// Package configsvc fetches and caches the remote pricing
// configuration that drives client-side quote calculation.
package configsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/protection"
)

var tracer = otel.Tracer("github.com/narvar/shipping-protection-sdk/internal/configsvc")

const (
	defaultFetchTimeout = 5 * time.Second
	maxConfigBodySize   = 64 * 1024
)

// Service performs the single configuration fetch during
// initialization and caches the last valid result. There is no retry
// policy: the coordinator surfaces failures as a terminal ERROR
// transition.
type Service struct {
	client *http.Client
	store  Store
	logger *zap.Logger

	mu     sync.RWMutex
	cached *protection.SecureConfig
}

// Option customises Service construction.
type Option func(*Service)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// WithStore installs a persistence store for fetched configurations.
func WithStore(store Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger installs a logger; nil is replaced with a nop.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a config service with defaults suitable for
// embedding: short fetch timeout, memory store, nop logger.
func NewService(opts ...Option) *Service {
	svc := &Service{
		client: &http.Client{Timeout: defaultFetchTimeout},
		store:  NewMemoryStore(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// FetchConfiguration performs one GET against url and validates the
// response. Non-2xx statuses yield CONFIG_ERROR, transport failures
// NETWORK_ERROR, schema violations CONFIG_ERROR. On success the value
// is cached and persisted to the store.
func (s *Service) FetchConfiguration(ctx context.Context, url string) (protection.SecureConfig, error) {
	ctx, span := tracer.Start(ctx, "configsvc.FetchConfiguration")
	span.SetAttributes(attribute.String("config.url", url))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return protection.SecureConfig{}, protection.NewError(protection.CategoryConfig, "invalid config URL").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("config fetch transport failure", zap.String("url", url), zap.Error(err))
		return protection.SecureConfig{}, protection.NewError(protection.CategoryNetwork, "config fetch error").
			WithCause(err).
			WithRetryable(true)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("config fetch rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return protection.SecureConfig{}, protection.NewError(protection.CategoryConfig,
			fmt.Sprintf("config fetch failed: %d", resp.StatusCode))
	}

	var cfg protection.SecureConfig
	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxConfigBodySize))
	if err := decoder.Decode(&cfg); err != nil {
		return protection.SecureConfig{}, protection.NewError(protection.CategoryConfig, "invalid config schema").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return protection.SecureConfig{}, err
	}

	s.mu.Lock()
	s.cached = &cfg
	s.mu.Unlock()

	if err := s.store.Save(ctx, cfg.RetailerMoniker, cfg); err != nil {
		// Persistence is best-effort; the in-memory cache is authoritative.
		s.logger.Warn("config store save failed", zap.String("retailer", cfg.RetailerMoniker), zap.Error(err))
	}

	s.logger.Debug("configuration fetched",
		zap.String("retailer", cfg.RetailerMoniker),
		zap.Int("tiers", len(cfg.Pricing.Tiers)))
	return cfg, nil
}

// Configuration returns the last valid fetched configuration.
func (s *Service) Configuration() (protection.SecureConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return protection.SecureConfig{}, false
	}
	return *s.cached, true
}
