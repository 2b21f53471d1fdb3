// Package coordinator owns the widget lifecycle: the state machine,
// the event bus, the config service, and the quote calculator. All
// failures are surfaced through the error event; nothing here panics
// into host code.
package coordinator

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/internal/configsvc"
	"github.com/narvar/shipping-protection-sdk/internal/events"
	"github.com/narvar/shipping-protection-sdk/internal/quote"
	"github.com/narvar/shipping-protection-sdk/internal/state"
	"github.com/narvar/shipping-protection-sdk/protection"
)

// Options carries the inputs to Initialize.
type Options struct {
	ConfigURL string
	SDKConfig protection.Config
}

// Deps are the injectable collaborators; zero values get defaults.
type Deps struct {
	HTTPClient  *http.Client
	ConfigStore configsvc.Store
	Logger      *zap.Logger

	// VerifyQuotes enables JWS verification of server quotes against
	// the edge key set before they are surfaced.
	VerifyQuotes bool
}

// Coordinator drives the widget session. State is single-writer: only
// transition() mutates it, always under the mutex.
type Coordinator struct {
	bus    *events.Bus
	logger *zap.Logger

	configService *configsvc.Service
	httpClient    *http.Client
	verifyQuotes  bool

	mu        sync.Mutex
	current   state.State
	calc      *quote.Calculator
	verifier  *quote.Verifier
	sdkConfig *protection.Config
}

// New constructs a coordinator in UNINITIALIZED state.
func New(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svcOpts := []configsvc.Option{configsvc.WithLogger(logger)}
	if deps.HTTPClient != nil {
		svcOpts = append(svcOpts, configsvc.WithHTTPClient(deps.HTTPClient))
	}
	if deps.ConfigStore != nil {
		svcOpts = append(svcOpts, configsvc.WithStore(deps.ConfigStore))
	}
	return &Coordinator{
		bus:           events.NewBus(logger),
		logger:        logger,
		configService: configsvc.NewService(svcOpts...),
		httpClient:    deps.HTTPClient,
		verifyQuotes:  deps.VerifyQuotes,
		current:       state.Uninitialized,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Bus exposes the event bus for facade subscriptions.
func (c *Coordinator) Bus() *events.Bus {
	return c.bus
}

// Initialize fetches the remote pricing configuration and transitions
// INITIALIZE then READY or ERROR. The fetch happens before the
// transition that reports its outcome, never interleaved with it.
func (c *Coordinator) Initialize(ctx context.Context, opts Options) error {
	if c.destroyed() {
		return protection.NewError(protection.CategoryConfig, "coordinator destroyed")
	}
	c.transition(state.Initialize)

	c.mu.Lock()
	cfg := opts.SDKConfig
	c.sdkConfig = &cfg
	c.mu.Unlock()

	secureCfg, err := c.configService.FetchConfiguration(ctx, opts.ConfigURL)
	if err != nil {
		c.fail(err)
		return err
	}

	calcOpts := []quote.Option{quote.WithLogger(c.logger)}
	if c.httpClient != nil {
		calcOpts = append(calcOpts, quote.WithHTTPClient(c.httpClient))
	}

	var verifier *quote.Verifier
	if c.verifyQuotes {
		jwksOpts := []quote.JWKSOption{}
		if c.httpClient != nil {
			jwksOpts = append(jwksOpts, quote.WithJWKSHTTPClient(c.httpClient))
		}
		jwks := quote.NewJWKSCache(configsvc.JWKSURL(cfg.RetailerMoniker, cfg.Environment), jwksOpts...)
		verifier = quote.NewVerifier(jwks, c.logger, nil)
	}

	c.mu.Lock()
	c.calc = quote.NewCalculator(secureCfg, calcOpts...)
	c.verifier = verifier
	c.mu.Unlock()

	c.transition(state.MarkReady)
	c.bus.Emit(protection.EventReady, protection.Payload{})
	c.logger.Debug("coordinator ready", zap.String("retailer", secureCfg.RetailerMoniker))
	return nil
}

// CalculateQuote computes or fetches a premium for cart, choosing
// client or server mode by the configured page. Requires a prior
// successful Initialize; otherwise it fails with CONFIG_ERROR.
func (c *Coordinator) CalculateQuote(ctx context.Context, cart protection.CartData) (protection.Quote, error) {
	c.mu.Lock()
	calc := c.calc
	verifier := c.verifier
	sdkConfig := c.sdkConfig
	c.mu.Unlock()

	if calc == nil {
		err := protection.NewError(protection.CategoryConfig, "quote calculator not initialized")
		c.fail(err)
		return protection.Quote{}, err
	}
	if sdkConfig == nil {
		err := protection.NewError(protection.CategoryConfig, "SDK config not initialized")
		c.fail(err)
		return protection.Quote{}, err
	}

	c.transition(state.CalculateQuote)

	if sdkConfig.Page == protection.PageCheckout {
		q, err := calc.CalculateWithEdge(ctx, cart, *sdkConfig)
		if err != nil {
			c.fail(err)
			return protection.Quote{}, err
		}
		if verifier != nil && q.Eligible != nil && *q.Eligible {
			if err := verifier.Verify(ctx, q.Signature); err != nil {
				werr := protection.NewError(protection.CategoryNetwork, "edge quote signature rejected").WithCause(err)
				c.fail(werr)
				return protection.Quote{}, werr
			}
		}
		c.transition(state.QuoteReady)
		c.bus.Emit(protection.EventQuoteAvailable, protection.Payload{"quote": &q})
		return q, nil
	}

	q := calc.Calculate(cart)
	c.transition(state.QuoteReady)
	c.bus.Emit(protection.EventQuoteAvailable, protection.Payload{"quote": &q})
	return q, nil
}

// SelectProtection records the customer opting in. No network or
// config state is touched; the machine returns to READY.
func (c *Coordinator) SelectProtection(payload protection.Payload) {
	if c.destroyed() {
		return
	}
	c.transition(state.SelectProtection)
	c.bus.Emit(protection.EventAddProtection, payload)
}

// DeclineProtection records the customer opting out.
func (c *Coordinator) DeclineProtection(payload protection.Payload) {
	if c.destroyed() {
		return
	}
	c.transition(state.DeclineProtection)
	c.bus.Emit(protection.EventRemoveProtection, payload)
}

// EmitError transitions to ERROR and publishes the categorized error.
// Used both internally and by the facade for render-path failures.
func (c *Coordinator) EmitError(err error) {
	if c.destroyed() {
		return
	}
	c.fail(err)
}

// Destroy makes the session terminal. Further calls are state no-ops
// and emit no lifecycle events.
func (c *Coordinator) Destroy() {
	c.transition(state.Destroy)
	c.mu.Lock()
	c.current = state.Destroyed
	c.calc = nil
	c.verifier = nil
	c.sdkConfig = nil
	c.mu.Unlock()
	c.bus.RemoveAll()
}

func (c *Coordinator) destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == state.Destroyed
}

func (c *Coordinator) fail(err error) {
	if c.destroyed() {
		return
	}
	c.transition(state.Fail)
	c.bus.Emit(protection.EventError, protection.Payload{"error": protection.AsError(err)})
}

func (c *Coordinator) transition(a state.Action) {
	c.mu.Lock()
	next := state.Reduce(c.current, a)
	if next != c.current {
		c.logger.Debug("state transition",
			zap.String("from", string(c.current)),
			zap.String("action", string(a)),
			zap.String("to", string(next)))
	}
	c.current = next
	c.mu.Unlock()
}
