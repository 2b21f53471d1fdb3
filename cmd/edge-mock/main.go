// Command edge-mock runs a local stand-in for the edge-compute
// pricing service: it serves retailer pricing configuration, signed
// premium quotes, and the key set used to verify quote signatures.
// It exists so integrators can exercise the full SDK loop without a
// deployed edge environment.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/protection"
)

const (
	defaultPort          = "8787"
	quoteValidity        = 15 * time.Minute
	signingKeyID         = "edge-mock-1"
	mockPremiumPercent   = 2.0
	eligibilityThreshold = 5 // cents; carts below this are not worth insuring
)

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		logger.Fatal("failed to generate signing key", zap.Error(err))
	}

	srv := &edgeServer{
		logger:     logger,
		signingKey: key,
		now:        time.Now,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("edge-mock listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	return cfg.Build()
}

type edgeServer struct {
	logger     *zap.Logger
	signingKey *ecdsa.PrivateKey
	now        func() time.Time
}

func (s *edgeServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Get("/.well-known/jwks.json", s.jwks)
	r.Get("/v1/config/{retailerMoniker}", s.config)
	r.Post("/v1/quote", s.quote)
	return r
}

func (s *edgeServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", s.now().Sub(start)))
	})
}

func (s *edgeServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *edgeServer) jwks(w http.ResponseWriter, _ *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &s.signingKey.PublicKey,
			KeyID:     signingKeyID,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		}},
	}
	writeJSON(w, http.StatusOK, set)
}

// config serves a deterministic pricing configuration for any
// retailer: flat 5% plus a tiered schedule that kicks in at 100.
func (s *edgeServer) config(w http.ResponseWriter, r *http.Request) {
	moniker := strings.TrimSpace(chi.URLParam(r, "retailerMoniker"))
	if moniker == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "retailer moniker required"})
		return
	}

	cfg := protection.SecureConfig{
		RetailerMoniker: moniker,
		Region:          "US",
		Locale:          "en-US",
		Pricing: protection.Pricing{
			Tiers: []protection.PricingTier{
				{Threshold: 0, Percentage: 5},
				{Threshold: 100, Percentage: 3},
				{Threshold: 500, Percentage: 2, FixedFee: 0.5},
			},
		},
	}
	writeJSON(w, http.StatusOK, cfg)
}

type quoteRequest struct {
	Currency        string `json:"currency"`
	Locale          string `json:"locale"`
	OrderItems      []item `json:"order_items"`
	ShipTo          string `json:"ship_to"`
	ShippingFee     int64  `json:"shipping_fee"`
	RetailerMoniker string `json:"retailer_moniker"`
}

type item struct {
	LinePrice int64  `json:"line_price"`
	Quantity  int    `json:"quantity"`
	SKU       string `json:"sku"`
	TotalTax  int64  `json:"total_tax"`
}

type quoteResponse struct {
	Eligible string `json:"eligible"`
	Quote    struct {
		PremiumValue int64 `json:"premium_value"`
	} `json:"quote"`
	Signature        *protection.QuoteSignature `json:"signature"`
	IneligibleReason *string                    `json:"ineligible_reason"`
}

func (s *edgeServer) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed quote request"})
		return
	}
	if req.RetailerMoniker == "" || len(req.Currency) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "retailer_moniker and currency are required"})
		return
	}

	var orderTotal int64
	for _, it := range req.OrderItems {
		orderTotal += it.LinePrice
	}
	orderTotal += req.ShippingFee

	var resp quoteResponse
	if orderTotal < eligibilityThreshold {
		reason := "order total below protectable minimum"
		resp.Eligible = "not_eligible"
		resp.IneligibleReason = &reason
		writeJSON(w, http.StatusOK, resp)
		return
	}

	premium := int64(math.Round(float64(orderTotal) * mockPremiumPercent / 100))
	now := s.now().UTC()
	expires := now.Add(quoteValidity)

	jws, err := s.signQuote(req.RetailerMoniker, premium, now, expires)
	if err != nil {
		s.logger.Error("failed to sign quote", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "signing failure"})
		return
	}

	resp.Eligible = "eligible"
	resp.Quote.PremiumValue = premium
	resp.Signature = &protection.QuoteSignature{
		JWS:       jws,
		CreatedAt: now.Unix(),
		ExpiresAt: expires.Unix(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *edgeServer) signQuote(moniker string, premium int64, issued, expires time.Time) (string, error) {
	claims := jwt.MapClaims{
		"jti":           ulid.Make().String(),
		"iss":           "edge-mock",
		"sub":           moniker,
		"premium_value": premium,
		"iat":           issued.Unix(),
		"exp":           expires.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = signingKeyID
	return token.SignedString(s.signingKey)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
