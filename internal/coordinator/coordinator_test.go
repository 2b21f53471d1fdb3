package coordinator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/narvar/shipping-protection-sdk/internal/state"
	"github.com/narvar/shipping-protection-sdk/protection"
)

const secureConfigBody = `{
	"retailerMoniker": "acme",
	"region": "us",
	"locale": "en-US",
	"pricing": {"tiers": [{"threshold": 0, "percentage": 5}, {"threshold": 100, "percentage": 3}]}
}`

func newConfigServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(secureConfigBody))
	}))
}

func sdkConfig() protection.Config {
	return protection.Config{
		Variant:         protection.VariantToggle,
		Page:            protection.PageCart,
		RetailerMoniker: "acme",
		Region:          "us",
		Locale:          "en-US",
		Environment:     protection.EnvQA,
	}
}

func cart(subtotal float64) protection.CartData {
	return protection.CartData{
		Items:    []protection.CartItem{{SKU: "SKU-1", Quantity: 1, Price: subtotal}},
		Subtotal: subtotal,
		Currency: "USD",
	}
}

type eventRecorder struct {
	names    []protection.Event
	payloads []protection.Payload
}

func (r *eventRecorder) attach(c *Coordinator) {
	for _, name := range protection.Events() {
		name := name
		c.Bus().On(name, func(_ protection.Event, payload protection.Payload) {
			r.names = append(r.names, name)
			r.payloads = append(r.payloads, payload)
		})
	}
}

func TestInitialize_SuccessEmitsReady(t *testing.T) {
	srv := newConfigServer(t)
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	rec := &eventRecorder{}
	rec.attach(c)

	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := c.State(); got != state.Ready {
		t.Fatalf("state = %s, want READY", got)
	}
	if len(rec.names) != 1 || rec.names[0] != protection.EventReady {
		t.Fatalf("events = %v, want [ready]", rec.names)
	}
}

func TestInitialize_FetchFailureEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	rec := &eventRecorder{}
	rec.attach(c)

	err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()})
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	if got := c.State(); got != state.Errored {
		t.Fatalf("state = %s, want ERROR", got)
	}
	if len(rec.names) != 1 || rec.names[0] != protection.EventError {
		t.Fatalf("events = %v, want [error]", rec.names)
	}
	if _, ok := rec.payloads[0]["error"].(*protection.Error); !ok {
		t.Fatalf("error payload = %v, want *protection.Error", rec.payloads[0]["error"])
	}
}

func TestCalculateQuote_ClientMode(t *testing.T) {
	srv := newConfigServer(t)
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rec := &eventRecorder{}
	rec.attach(c)

	q, err := c.CalculateQuote(context.Background(), cart(150))
	if err != nil {
		t.Fatalf("CalculateQuote: %v", err)
	}
	if q.Amount != 4.50 || q.Source != protection.SourceClient {
		t.Fatalf("quote = %+v, want 4.50 client", q)
	}
	if got := c.State(); got != state.QuoteAvailable {
		t.Fatalf("state = %s, want QUOTE_AVAILABLE", got)
	}
	if len(rec.names) != 1 || rec.names[0] != protection.EventQuoteAvailable {
		t.Fatalf("events = %v, want [quote-available]", rec.names)
	}
	emitted, ok := rec.payloads[0]["quote"].(*protection.Quote)
	if !ok || emitted.Amount != 4.50 {
		t.Fatalf("quote payload = %v", rec.payloads[0]["quote"])
	}
}

func TestCalculateQuote_BeforeInitializeFails(t *testing.T) {
	c := New(Deps{})
	rec := &eventRecorder{}
	rec.attach(c)

	_, err := c.CalculateQuote(context.Background(), cart(10))
	if err == nil {
		t.Fatal("expected error before Initialize")
	}
	if protection.Categorize(err) != protection.CategoryConfig {
		t.Fatalf("category = %s, want CONFIG_ERROR", protection.Categorize(err))
	}
	if len(rec.names) != 1 || rec.names[0] != protection.EventError {
		t.Fatalf("events = %v, want [error]", rec.names)
	}
}

func TestSelectAndDeclineRoundTrip(t *testing.T) {
	srv := newConfigServer(t)
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := c.CalculateQuote(context.Background(), cart(50)); err != nil {
		t.Fatalf("CalculateQuote: %v", err)
	}

	rec := &eventRecorder{}
	rec.attach(c)

	c.SelectProtection(protection.Payload{"amount": 2.50})
	if got := c.State(); got != state.Ready {
		t.Fatalf("state after select = %s, want READY", got)
	}

	if _, err := c.CalculateQuote(context.Background(), cart(50)); err != nil {
		t.Fatalf("second CalculateQuote: %v", err)
	}
	c.DeclineProtection(nil)
	if got := c.State(); got != state.Ready {
		t.Fatalf("state after decline = %s, want READY", got)
	}

	want := []protection.Event{
		protection.EventAddProtection,
		protection.EventQuoteAvailable,
		protection.EventRemoveProtection,
	}
	if len(rec.names) != len(want) {
		t.Fatalf("events = %v, want %v", rec.names, want)
	}
	for i := range want {
		if rec.names[i] != want[i] {
			t.Fatalf("events = %v, want %v", rec.names, want)
		}
	}
}

func TestSelectProtection_IgnoredOutsideQuoteAvailable(t *testing.T) {
	srv := newConfigServer(t)
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// READY has no SELECT_PROTECTION edge: state must not move, though
	// the action event still reaches listeners.
	c.SelectProtection(nil)
	if got := c.State(); got != state.Ready {
		t.Fatalf("state = %s, want READY unchanged", got)
	}
}

func TestDestroy_Terminal(t *testing.T) {
	srv := newConfigServer(t)
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rec := &eventRecorder{}
	rec.attach(c)
	c.Destroy()

	if got := c.State(); got != state.Destroyed {
		t.Fatalf("state = %s, want DESTROYED", got)
	}

	// Every further operation must be a silent no-op.
	c.SelectProtection(nil)
	c.DeclineProtection(nil)
	c.EmitError(protection.NewError(protection.CategoryUnknown, "late"))
	if _, err := c.CalculateQuote(context.Background(), cart(10)); err == nil {
		t.Fatal("CalculateQuote after Destroy must fail")
	}
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err == nil {
		t.Fatal("Initialize after Destroy must fail")
	}
	if got := c.State(); got != state.Destroyed {
		t.Fatalf("state drifted to %s after post-destroy calls", got)
	}
	if len(rec.names) != 0 {
		t.Fatalf("events after Destroy = %v, want none", rec.names)
	}
}

func TestEmitError_TransitionsAndPublishes(t *testing.T) {
	srv := newConfigServer(t)
	defer srv.Close()

	c := New(Deps{HTTPClient: srv.Client()})
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL, SDKConfig: sdkConfig()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rec := &eventRecorder{}
	rec.attach(c)

	c.EmitError(protection.NewError(protection.CategoryRender, "mount failed"))
	if got := c.State(); got != state.Errored {
		t.Fatalf("state = %s, want ERROR", got)
	}
	werr, ok := rec.payloads[0]["error"].(*protection.Error)
	if !ok || werr.Category != protection.CategoryRender {
		t.Fatalf("error payload = %v", rec.payloads[0]["error"])
	}
}

// rewriteTransport pins every outbound request to the local test
// server regardless of derived host, preserving the request path.
type rewriteTransport struct {
	target *url.URL
	inner  http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host
	return t.inner.RoundTrip(clone)
}

func TestCalculateQuote_ServerModeWithVerification(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(secureConfigBody))
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: key.Public(), KeyID: "edge-1", Algorithm: "ES256", Use: "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		claims := jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
		token.Header["kid"] = "edge-1"
		jws, err := token.SignedString(key)
		if err != nil {
			t.Errorf("sign quote: %v", err)
		}
		fmt.Fprintf(w, `{
			"eligible": "eligible",
			"quote": {"premium_value": 250},
			"signature": {"jws": %q, "created_at": %d, "expires_at": %d}
		}`, jws, now.Unix(), now.Add(10*time.Minute).Unix())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	client := &http.Client{Transport: &rewriteTransport{target: target, inner: srv.Client().Transport}}

	c := New(Deps{HTTPClient: client, VerifyQuotes: true})
	cfg := sdkConfig()
	cfg.Page = protection.PageCheckout
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL + "/config", SDKConfig: cfg}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	q, err := c.CalculateQuote(context.Background(), cart(100))
	if err != nil {
		t.Fatalf("CalculateQuote: %v", err)
	}
	if q.Amount != 2.5 || q.Source != protection.SourceServer {
		t.Fatalf("quote = %+v, want 2.5 server", q)
	}
	if got := c.State(); got != state.QuoteAvailable {
		t.Fatalf("state = %s, want QUOTE_AVAILABLE", got)
	}
}

func TestCalculateQuote_ServerModeRejectsBadSignature(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(secureConfigBody))
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: key.Public(), KeyID: "edge-1", Algorithm: "ES256", Use: "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		// Signed by a key the JWKS endpoint does not publish.
		rogue, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		})
		token.Header["kid"] = "edge-1"
		jws, _ := token.SignedString(rogue)
		fmt.Fprintf(w, `{
			"eligible": "eligible",
			"quote": {"premium_value": 250},
			"signature": {"jws": %q, "created_at": %d, "expires_at": %d}
		}`, jws, now.Unix(), now.Add(10*time.Minute).Unix())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	client := &http.Client{Transport: &rewriteTransport{target: target, inner: srv.Client().Transport}}

	c := New(Deps{HTTPClient: client, VerifyQuotes: true})
	cfg := sdkConfig()
	cfg.Page = protection.PageCheckout
	if err := c.Initialize(context.Background(), Options{ConfigURL: srv.URL + "/config", SDKConfig: cfg}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := c.CalculateQuote(context.Background(), cart(100))
	if err == nil {
		t.Fatal("forged signature accepted")
	}
	if protection.Categorize(err) != protection.CategoryNetwork {
		t.Fatalf("category = %s, want NETWORK_ERROR", protection.Categorize(err))
	}
	if got := c.State(); got != state.Errored {
		t.Fatalf("state = %s, want ERROR", got)
	}
}
