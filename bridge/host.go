package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/protection"
)

// HostCallbacks receives validated widget messages. Nil callbacks are
// skipped. Callbacks run on the goroutine delivering the inbound
// envelope.
type HostCallbacks struct {
	OnReady            func(version string)
	OnQuoteAvailable   func(quote protection.Quote)
	OnProtectionAdd    func(amount float64, currency string)
	OnProtectionRemove func()
	OnError            func(err SerializedError)
	OnHeightChange     func(pixels float64)
}

// HostController is the native-host side of the bridge. It mirrors the
// coordinator's ordering guarantees across the asynchronous channel:
// init is sent first, render only after the widget reports ready, and
// destroy stops all further dispatch. The channel carries no
// correlation IDs, so when renders race their quote replies cannot be
// paired with a specific request; the protocol has no built-in
// timeout either; the host decides how long to wait for ready.
type HostController struct {
	send      SendFunc
	callbacks HostCallbacks
	logger    *zap.Logger

	mu        sync.Mutex
	ready     bool
	destroyed bool
}

// NewHostController constructs the host side around an outbound send
// function. A nil logger is replaced with a nop.
func NewHostController(send SendFunc, callbacks HostCallbacks, logger *zap.Logger) *HostController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostController{
		send:      send,
		callbacks: callbacks,
		logger:    logger,
	}
}

// Init asks the widget to initialize. Send once the widget context has
// loaded; readiness arrives via OnReady.
func (h *HostController) Init(config protection.Config) {
	h.sendMessage(InitMessage{Config: config})
}

// Render forwards a cart snapshot. Renders before the widget reports
// ready are dropped with a warning, never queued.
func (h *HostController) Render(cart protection.CartData) {
	h.mu.Lock()
	ready := h.ready
	h.mu.Unlock()
	if !ready {
		h.logger.Warn("dropping render before widget ready")
		return
	}
	h.sendMessage(RenderMessage{Cart: cart})
}

// SetCustomerIdentity forwards a customer identity update.
func (h *HostController) SetCustomerIdentity(identity protection.CustomerIdentity) {
	h.sendMessage(SetCustomerIdentityMessage{Identity: identity})
}

// Destroy tells the widget to tear down and stops further dispatch on
// this controller. In-flight widget work is not aborted.
func (h *HostController) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.sendMessage(DestroyMessage{})

	h.mu.Lock()
	h.destroyed = true
	h.ready = false
	h.mu.Unlock()
}

// Ready reports whether the widget has announced readiness.
func (h *HostController) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// HandleRaw processes one inbound envelope string from the widget.
// Malformed or mis-sourced envelopes are dropped with a warning.
func (h *HostController) HandleRaw(raw string) {
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if destroyed {
		return
	}

	msg, err := DecodeWidgetEnvelope(raw)
	if err != nil {
		h.logger.Warn("dropping invalid widget envelope", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case ReadyMessage:
		h.mu.Lock()
		h.ready = true
		h.mu.Unlock()
		if h.callbacks.OnReady != nil {
			h.callbacks.OnReady(m.Version)
		}
	case QuoteAvailableMessage:
		if h.callbacks.OnQuoteAvailable != nil {
			h.callbacks.OnQuoteAvailable(m.Quote)
		}
	case AddProtectionMessage:
		if h.callbacks.OnProtectionAdd != nil {
			h.callbacks.OnProtectionAdd(m.Amount, m.Currency)
		}
	case RemoveProtectionMessage:
		if h.callbacks.OnProtectionRemove != nil {
			h.callbacks.OnProtectionRemove()
		}
	case ErrorMessage:
		if h.callbacks.OnError != nil {
			h.callbacks.OnError(m.Error)
		}
	case HeightChangeMessage:
		if h.callbacks.OnHeightChange != nil {
			h.callbacks.OnHeightChange(m.Height)
		}
	}
}

func (h *HostController) sendMessage(msg HostMessage) {
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if destroyed || h.send == nil {
		return
	}

	raw, err := EncodeHostMessage(msg)
	if err != nil {
		h.logger.Warn("failed to encode host message", zap.Error(err))
		return
	}
	h.send(raw)
}
