// Package bridge implements the typed message protocol that carries
// widget lifecycle traffic across a WebView boundary. Every message
// travels as a JSON envelope string; inbound envelopes are parsed and
// schema-validated before dispatch, and malformed or mis-sourced
// traffic is dropped with a logged warning, never surfaced as a panic
// or error to the channel.
package bridge

import (
	"encoding/json"

	"github.com/narvar/shipping-protection-sdk/protection"
)

// Version is the only envelope version this protocol accepts.
const Version = "1.0"

// Envelope sources identify the sending side of the channel.
const (
	SourceWidget = "narvar-shipping-protection-widget"
	SourceHost   = "narvar-shipping-protection-host"
)

// Message type tags, host to widget.
const (
	TypeInit                = "init"
	TypeRender              = "render"
	TypeSetCustomerIdentity = "set-customer-identity"
	TypeDestroy             = "destroy"
)

// Message type tags, widget to host.
const (
	TypeReady            = "ready"
	TypeQuoteAvailable   = "quote-available"
	TypeAddProtection    = "add-protection"
	TypeRemoveProtection = "remove-protection"
	TypeError            = "error"
	TypeHeightChange     = "height-change"
)

// Envelope is the versioned wrapper around every bridge message.
type Envelope struct {
	Source  string     `json:"source"`
	Version string     `json:"version"`
	Message rawMessage `json:"message"`
}

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SerializedError is the cross-boundary form of a categorized error.
type SerializedError struct {
	Category  protection.Category `json:"category"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
}

// SerializeError converts any error to its bridge representation.
func SerializeError(err error) SerializedError {
	werr := protection.AsError(err)
	return SerializedError{
		Category:  werr.Category,
		Message:   werr.Message,
		Retryable: werr.Retryable,
	}
}

// HostMessage is a validated message received from (or sent by) the
// native host side of the channel.
type HostMessage interface{ hostMessage() }

// InitMessage asks the widget to initialize with the given config.
type InitMessage struct {
	Config protection.Config
}

// RenderMessage asks the widget to quote the given cart snapshot.
type RenderMessage struct {
	Cart protection.CartData
}

// SetCustomerIdentityMessage forwards a customer identity update.
type SetCustomerIdentityMessage struct {
	Identity protection.CustomerIdentity
}

// DestroyMessage asks the widget to tear down.
type DestroyMessage struct{}

func (InitMessage) hostMessage()                {}
func (RenderMessage) hostMessage()              {}
func (SetCustomerIdentityMessage) hostMessage() {}
func (DestroyMessage) hostMessage()             {}

// WidgetMessage is a validated message received from (or sent by) the
// widget side of the channel.
type WidgetMessage interface{ widgetMessage() }

// ReadyMessage reports that the widget finished initializing.
type ReadyMessage struct {
	Version string
}

// QuoteAvailableMessage carries a computed or fetched quote.
type QuoteAvailableMessage struct {
	Quote protection.Quote
}

// AddProtectionMessage reports the customer opting in.
type AddProtectionMessage struct {
	Amount   float64
	Currency string
}

// RemoveProtectionMessage reports the customer opting out.
type RemoveProtectionMessage struct{}

// ErrorMessage carries a categorized widget failure.
type ErrorMessage struct {
	Error SerializedError
}

// HeightChangeMessage reports the widget's rendered pixel height so
// the host can size the WebView container.
type HeightChangeMessage struct {
	Height float64
}

func (ReadyMessage) widgetMessage()            {}
func (QuoteAvailableMessage) widgetMessage()   {}
func (AddProtectionMessage) widgetMessage()    {}
func (RemoveProtectionMessage) widgetMessage() {}
func (ErrorMessage) widgetMessage()            {}
func (HeightChangeMessage) widgetMessage()     {}

// SendFunc transmits one serialized envelope across the boundary. The
// transport is fire-and-forget and unordered relative to other channel
// traffic; the protocol carries no correlation IDs, so request and
// reply cannot be paired when calls race.
type SendFunc func(raw string)
