package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	shippingprotection "github.com/narvar/shipping-protection-sdk"
	"github.com/narvar/shipping-protection-sdk/protection"
)

// WidgetEndpoint binds the widget side of the bridge: inbound host
// envelopes drive the SDK client, and client events are forwarded
// outbound as widget envelopes. One endpoint serves one WebView.
type WidgetEndpoint struct {
	client *shippingprotection.Client
	send   SendFunc
	logger *zap.Logger

	mu           sync.Mutex
	unsubscribes []func()
	destroyed    bool
}

// NewWidgetEndpoint wires client events to the outbound channel. A nil
// logger is replaced with a nop.
func NewWidgetEndpoint(client *shippingprotection.Client, send SendFunc, logger *zap.Logger) *WidgetEndpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &WidgetEndpoint{
		client: client,
		send:   send,
		logger: logger,
	}
	e.subscribe()
	return e
}

func (e *WidgetEndpoint) subscribe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsubscribes = []func(){
		e.client.On(protection.EventQuoteAvailable, e.forwardQuote),
		e.client.On(protection.EventError, e.forwardError),
		e.client.On(protection.EventAddProtection, e.forwardAddProtection),
		e.client.On(protection.EventRemoveProtection, e.forwardRemoveProtection),
	}
}

// HandleRaw processes one inbound envelope string from the host.
// Malformed or mis-sourced envelopes are dropped with a warning.
func (e *WidgetEndpoint) HandleRaw(raw string) {
	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed {
		return
	}

	msg, err := DecodeHostEnvelope(raw)
	if err != nil {
		e.logger.Warn("dropping invalid host envelope", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case InitMessage:
		// Init blocks on the config fetch; run it off the channel
		// goroutine and report readiness (or failure) over the bridge.
		go func() {
			if err := e.client.Init(context.Background(), m.Config); err != nil {
				e.sendMessage(ErrorMessage{Error: SerializeError(err)})
				return
			}
			e.sendMessage(ReadyMessage{Version: e.client.GetVersion()})
		}()
	case RenderMessage:
		e.client.Render(m.Cart)
	case SetCustomerIdentityMessage:
		e.client.SetCustomerIdentity(m.Identity)
	case DestroyMessage:
		e.Close()
	}
}

// ReportHeight sends a height-change message so the host can resize
// the WebView container.
func (e *WidgetEndpoint) ReportHeight(pixels float64) {
	if pixels < 0 {
		return
	}
	e.sendMessage(HeightChangeMessage{Height: pixels})
}

// Close tears down the endpoint and the underlying client session.
// New inbound dispatch stops; in-flight host calls are not aborted.
func (e *WidgetEndpoint) Close() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	unsubs := e.unsubscribes
	e.unsubscribes = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	e.client.Destroy()
}

func (e *WidgetEndpoint) forwardQuote(_ protection.Event, payload protection.Payload) {
	quote, ok := payload["quote"].(*protection.Quote)
	if !ok || quote == nil {
		e.logger.Warn("quote-available event missing quote payload")
		return
	}
	e.sendMessage(QuoteAvailableMessage{Quote: *quote})
}

func (e *WidgetEndpoint) forwardError(_ protection.Event, payload protection.Payload) {
	werr, ok := payload["error"].(*protection.Error)
	if !ok || werr == nil {
		e.logger.Warn("error event missing error payload")
		return
	}
	e.sendMessage(ErrorMessage{Error: SerializeError(werr)})
}

func (e *WidgetEndpoint) forwardAddProtection(_ protection.Event, payload protection.Payload) {
	amount, _ := payload["amount"].(float64)
	currency, _ := payload["currency"].(string)
	if currency == "" {
		e.logger.Warn("add-protection event missing currency")
		return
	}
	e.sendMessage(AddProtectionMessage{Amount: amount, Currency: currency})
}

func (e *WidgetEndpoint) forwardRemoveProtection(_ protection.Event, _ protection.Payload) {
	e.sendMessage(RemoveProtectionMessage{})
}

func (e *WidgetEndpoint) sendMessage(msg WidgetMessage) {
	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed || e.send == nil {
		return
	}

	raw, err := EncodeWidgetMessage(msg)
	if err != nil {
		e.logger.Warn("failed to encode widget message", zap.Error(err))
		return
	}
	e.send(raw)
}
