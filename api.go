// Package shippingprotection is the public surface of the shipping
// protection SDK. Every method on Client is zero-throw: it returns a
// categorized error or reports failures through events, and never
// panics into host code.
package shippingprotection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/narvar/shipping-protection-sdk/internal/configsvc"
	"github.com/narvar/shipping-protection-sdk/internal/coordinator"
	"github.com/narvar/shipping-protection-sdk/internal/events"
	"github.com/narvar/shipping-protection-sdk/protection"
)

const (
	defaultVersion        = "0.0.1"
	defaultInitTimeout    = 10 * time.Second
	defaultDebounceWindow = 100 * time.Millisecond
)

// Client is the host-facing API facade. Construct it with New; the
// zero value is not usable.
type Client struct {
	logger       *zap.Logger
	httpClient   *http.Client
	configStore  configsvc.Store
	ambient      events.AmbientSink
	version      string
	initTimeout  time.Duration
	debounce     time.Duration
	verifyQuotes bool
	instanceID   string

	initFlight singleflight.Group

	mu          sync.Mutex
	coord       *coordinator.Coordinator
	ready       bool
	initDone    bool
	initErr     error
	pending     *time.Timer
	subs        []*subscriptionHandle
}

type subscriptionHandle struct {
	event    protection.Event
	listener events.Listener
	busID    int
}

// Option customises Client construction.
type Option func(*Client)

// WithLogger installs a structured logger; nil is replaced with a nop.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient injects the HTTP client used for all outbound
// fetches, replacing the defaults.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithConfigStore injects a persistence store for fetched pricing
// configurations.
func WithConfigStore(store configsvc.Store) Option {
	return func(c *Client) {
		if store != nil {
			c.configStore = store
		}
	}
}

// WithAmbientSink installs a passive observer receiving a copy of
// every emitted event.
func WithAmbientSink(sink events.AmbientSink) Option {
	return func(c *Client) {
		c.ambient = sink
	}
}

// WithQuoteVerification enables JWS verification of server quotes
// against the edge key set. Off by default: web embeddings trust the
// TLS channel, native hosts opt in.
func WithQuoteVerification() Option {
	return func(c *Client) {
		c.verifyQuotes = true
	}
}

// WithVersion overrides the reported SDK version string.
func WithVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.version = version
		}
	}
}

// WithInitTimeout overrides the initialization timeout.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.initTimeout = d
		}
	}
}

// WithDebounceWindow overrides the render debounce window.
func WithDebounceWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// New constructs an unused Client. The host then calls Init once and
// Render on every cart change.
func New(opts ...Option) *Client {
	c := &Client{
		logger:      zap.NewNop(),
		version:     defaultVersion,
		initTimeout: defaultInitTimeout,
		debounce:    defaultDebounceWindow,
		instanceID:  ulid.Make().String(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With(zap.String("sdk_instance", c.instanceID))
	c.installCoordinator()
	return c
}

// installCoordinator builds a fresh coordinator and re-attaches every
// live facade subscription to its bus. Callers must not hold c.mu.
func (c *Client) installCoordinator() {
	coord := coordinator.New(coordinator.Deps{
		HTTPClient:   c.httpClient,
		ConfigStore:  c.configStore,
		Logger:       c.logger,
		VerifyQuotes: c.verifyQuotes,
	})
	if c.ambient != nil {
		coord.Bus().SetAmbientSink(c.ambient)
	}

	c.mu.Lock()
	c.coord = coord
	for _, sub := range c.subs {
		sub.busID = coord.Bus().On(sub.event, sub.listener)
	}
	c.mu.Unlock()
}

// Init validates config, derives the configuration URL when absent,
// and initializes the coordinator against a fixed timeout. It is
// idempotent: duplicate or concurrent calls share one in-flight
// initialization and observe the same result, with exactly one config
// fetch. A timeout yields CONFIG_ERROR without cancelling the
// underlying fetch.
func (c *Client) Init(ctx context.Context, config protection.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = protection.Recovered("Init", r)
		}
	}()

	c.mu.Lock()
	if c.initDone {
		res := c.initErr
		c.mu.Unlock()
		return res
	}
	c.mu.Unlock()

	// Every sharer of the flight gets Do's own return; c.initErr may
	// already have been cleared by a concurrent Destroy.
	_, initErr, _ := c.initFlight.Do("init", func() (any, error) {
		res := c.initOnce(ctx, config)
		c.mu.Lock()
		c.initDone = true
		c.initErr = res
		c.mu.Unlock()
		return nil, res
	})
	return initErr
}

func (c *Client) initOnce(ctx context.Context, config protection.Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	config = config.WithDefaults()

	configURL := config.ConfigURL
	if configURL == "" {
		configURL = configsvc.DeriveConfigURL(config.RetailerMoniker, config.Environment)
	}

	c.mu.Lock()
	coord := c.coord
	c.mu.Unlock()

	// The fetch runs on a detached context: the timeout below stops
	// waiting for it, it does not cancel it. A late success is ignored
	// because the facade has already reported the timeout.
	fetchCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- protection.Recovered("Init", r)
			}
		}()
		done <- coord.Initialize(fetchCtx, coordinator.Options{
			ConfigURL: configURL,
			SDKConfig: config,
		})
	}()

	timer := time.NewTimer(c.initTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return protection.AsError(err)
		}
	case <-timer.C:
		c.logger.Warn("initialization timed out", zap.Duration("timeout", c.initTimeout))
		return protection.NewError(protection.CategoryConfig, "SDK initialization timeout")
	case <-ctx.Done():
		return protection.NewError(protection.CategoryConfig, "SDK initialization cancelled").WithCause(ctx.Err())
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return nil
}

// Render requests a quote for cart. It is fire-and-forget and
// debounced: calls within the debounce window cancel the prior
// pending invocation, so only the last cart snapshot in a burst is
// calculated. Failures (invalid cart, render before ready) surface
// only through the error event.
func (c *Client) Render(cart protection.CartData) {
	c.mu.Lock()
	if c.pending != nil {
		c.pending.Stop()
	}
	snapshot := cart
	c.pending = time.AfterFunc(c.debounce, func() {
		c.renderNow(snapshot)
	})
	c.mu.Unlock()
}

func (c *Client) renderNow(cart protection.CartData) {
	c.mu.Lock()
	coord := c.coord
	ready := c.ready
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("render panicked", zap.Any("panic", r))
			coord.EmitError(protection.Recovered("Render", r))
		}
	}()

	if !ready {
		coord.EmitError(protection.NewError(protection.CategoryConfig, "SDK not ready - call Init first"))
		return
	}
	if err := cart.Validate(); err != nil {
		coord.EmitError(err)
		return
	}

	// Quote results and failures are reported via events.
	_, _ = coord.CalculateQuote(context.Background(), cart)
}

// On subscribes listener to one of the fixed event names and returns
// an unsubscribe closure. Unknown event names are accepted but never
// fire.
func (c *Client) On(event protection.Event, listener func(protection.Event, protection.Payload)) func() {
	if listener == nil {
		return func() {}
	}

	c.mu.Lock()
	handle := &subscriptionHandle{event: event, listener: events.Listener(listener)}
	c.subs = append(c.subs, handle)
	coord := c.coord
	c.mu.Unlock()

	handle.busID = coord.Bus().On(event, handle.listener)

	return func() {
		c.off(handle)
	}
}

// Off removes every subscription for event registered through On.
// Prefer the closure On returns for single-listener removal.
func (c *Client) Off(event protection.Event) {
	c.mu.Lock()
	remaining := c.subs[:0]
	var dropped []*subscriptionHandle
	for _, sub := range c.subs {
		if sub.event == event {
			dropped = append(dropped, sub)
			continue
		}
		remaining = append(remaining, sub)
	}
	c.subs = remaining
	coord := c.coord
	c.mu.Unlock()

	for _, sub := range dropped {
		coord.Bus().Off(sub.event, sub.busID)
	}
}

func (c *Client) off(handle *subscriptionHandle) {
	c.mu.Lock()
	for i, sub := range c.subs {
		if sub == handle {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			break
		}
	}
	coord := c.coord
	c.mu.Unlock()

	coord.Bus().Off(handle.event, handle.busID)
}

// SelectProtection reports the customer opting in to protection.
func (c *Client) SelectProtection(payload protection.Payload) {
	c.currentCoordinator().SelectProtection(payload)
}

// DeclineProtection reports the customer opting out of protection.
func (c *Client) DeclineProtection(payload protection.Payload) {
	c.currentCoordinator().DeclineProtection(payload)
}

// SetCustomerIdentity accepts a customer identity. It is currently
// inert; the identity is logged at debug level only.
func (c *Client) SetCustomerIdentity(identity protection.CustomerIdentity) {
	c.logger.Debug("customer identity set",
		zap.Bool("has_customer_id", identity.CustomerID != ""),
		zap.Bool("has_email_id", identity.EmailID != ""))
}

// GetVersion returns the SDK version string.
func (c *Client) GetVersion() string {
	return c.version
}

// IsReady reports whether Init completed successfully.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// State returns the coordinator's lifecycle state name.
func (c *Client) State() string {
	return string(c.currentCoordinator().State())
}

// Destroy tears the session down: the pending render is cancelled, the
// coordinator is destroyed, and the init idempotency cache is cleared
// so a subsequent Init starts a fresh session.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	coord := c.coord
	c.ready = false
	c.initDone = false
	c.initErr = nil
	c.mu.Unlock()

	coord.Destroy()
	c.installCoordinator()
}

func (c *Client) currentCoordinator() *coordinator.Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coord
}
