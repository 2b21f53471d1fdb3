package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/narvar/shipping-protection-sdk/protection"
)

type readyPayload struct {
	Version string `json:"version"`
}

type quoteAvailablePayload struct {
	Quote protection.Quote `json:"quote"`
}

type addProtectionPayload struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type errorPayload struct {
	Error SerializedError `json:"error"`
}

type heightChangePayload struct {
	Height float64 `json:"height"`
}

type emptyPayload struct{}

// unmarshalPayload decodes a message payload into dst. An absent or
// null payload is rejected: every typed message carries one, even if
// it is an empty object.
func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("bridge: missing message payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("bridge: invalid message payload: %w", err)
	}
	return nil
}

// DecodeHostEnvelope parses raw as an envelope sent by the host and
// returns the validated message. Any failure (malformed JSON, wrong
// version, wrong source, unknown type, payload schema violation)
// yields an error the caller is expected to log and drop.
func DecodeHostEnvelope(raw string) (HostMessage, error) {
	env, err := decodeEnvelope(raw, SourceHost)
	if err != nil {
		return nil, err
	}

	switch env.Message.Type {
	case TypeInit:
		var cfg protection.Config
		if err := unmarshalPayload(env.Message.Payload, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("bridge: init payload: %w", err)
		}
		return InitMessage{Config: cfg.WithDefaults()}, nil
	case TypeRender:
		var cart protection.CartData
		if err := unmarshalPayload(env.Message.Payload, &cart); err != nil {
			return nil, err
		}
		if err := cart.Validate(); err != nil {
			return nil, fmt.Errorf("bridge: render payload: %w", err)
		}
		return RenderMessage{Cart: cart}, nil
	case TypeSetCustomerIdentity:
		var ident protection.CustomerIdentity
		if err := unmarshalPayload(env.Message.Payload, &ident); err != nil {
			return nil, err
		}
		return SetCustomerIdentityMessage{Identity: ident}, nil
	case TypeDestroy:
		return DestroyMessage{}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown host message type %q", env.Message.Type)
	}
}

// DecodeWidgetEnvelope parses raw as an envelope sent by the widget.
func DecodeWidgetEnvelope(raw string) (WidgetMessage, error) {
	env, err := decodeEnvelope(raw, SourceWidget)
	if err != nil {
		return nil, err
	}

	switch env.Message.Type {
	case TypeReady:
		var p readyPayload
		if err := unmarshalPayload(env.Message.Payload, &p); err != nil {
			return nil, err
		}
		if p.Version == "" {
			return nil, fmt.Errorf("bridge: ready payload missing version")
		}
		return ReadyMessage{Version: p.Version}, nil
	case TypeQuoteAvailable:
		var p quoteAvailablePayload
		if err := unmarshalPayload(env.Message.Payload, &p); err != nil {
			return nil, err
		}
		switch p.Quote.Source {
		case protection.SourceClient, protection.SourceServer:
		default:
			return nil, fmt.Errorf("bridge: quote source %q is not client or server", p.Quote.Source)
		}
		if len(p.Quote.Currency) != 3 {
			return nil, fmt.Errorf("bridge: quote currency must be a 3-letter code")
		}
		return QuoteAvailableMessage{Quote: p.Quote}, nil
	case TypeAddProtection:
		var p addProtectionPayload
		if err := unmarshalPayload(env.Message.Payload, &p); err != nil {
			return nil, err
		}
		if p.Currency == "" {
			return nil, fmt.Errorf("bridge: add-protection payload missing currency")
		}
		return AddProtectionMessage{Amount: p.Amount, Currency: p.Currency}, nil
	case TypeRemoveProtection:
		return RemoveProtectionMessage{}, nil
	case TypeError:
		var p errorPayload
		if err := unmarshalPayload(env.Message.Payload, &p); err != nil {
			return nil, err
		}
		if !p.Error.Category.Valid() {
			return nil, fmt.Errorf("bridge: error payload category %q is not valid", p.Error.Category)
		}
		return ErrorMessage{Error: p.Error}, nil
	case TypeHeightChange:
		var p heightChangePayload
		if err := unmarshalPayload(env.Message.Payload, &p); err != nil {
			return nil, err
		}
		if p.Height < 0 {
			return nil, fmt.Errorf("bridge: height cannot be negative")
		}
		return HeightChangeMessage{Height: p.Height}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown widget message type %q", env.Message.Type)
	}
}

// EncodeHostMessage wraps msg in a host-sourced envelope string.
func EncodeHostMessage(msg HostMessage) (string, error) {
	switch m := msg.(type) {
	case InitMessage:
		return encodeEnvelope(SourceHost, TypeInit, m.Config)
	case RenderMessage:
		return encodeEnvelope(SourceHost, TypeRender, m.Cart)
	case SetCustomerIdentityMessage:
		return encodeEnvelope(SourceHost, TypeSetCustomerIdentity, m.Identity)
	case DestroyMessage:
		return encodeEnvelope(SourceHost, TypeDestroy, emptyPayload{})
	default:
		return "", fmt.Errorf("bridge: unsupported host message %T", msg)
	}
}

// EncodeWidgetMessage wraps msg in a widget-sourced envelope string.
func EncodeWidgetMessage(msg WidgetMessage) (string, error) {
	switch m := msg.(type) {
	case ReadyMessage:
		return encodeEnvelope(SourceWidget, TypeReady, readyPayload{Version: m.Version})
	case QuoteAvailableMessage:
		return encodeEnvelope(SourceWidget, TypeQuoteAvailable, quoteAvailablePayload{Quote: m.Quote})
	case AddProtectionMessage:
		return encodeEnvelope(SourceWidget, TypeAddProtection, addProtectionPayload{Amount: m.Amount, Currency: m.Currency})
	case RemoveProtectionMessage:
		return encodeEnvelope(SourceWidget, TypeRemoveProtection, emptyPayload{})
	case ErrorMessage:
		return encodeEnvelope(SourceWidget, TypeError, errorPayload{Error: m.Error})
	case HeightChangeMessage:
		return encodeEnvelope(SourceWidget, TypeHeightChange, heightChangePayload{Height: m.Height})
	default:
		return "", fmt.Errorf("bridge: unsupported widget message %T", msg)
	}
}

func decodeEnvelope(raw, expectedSource string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("bridge: malformed envelope: %w", err)
	}
	if env.Version != Version {
		return Envelope{}, fmt.Errorf("bridge: envelope version %q, want %q", env.Version, Version)
	}
	if env.Source != expectedSource {
		return Envelope{}, fmt.Errorf("bridge: envelope source %q, want %q", env.Source, expectedSource)
	}
	if env.Message.Type == "" {
		return Envelope{}, fmt.Errorf("bridge: envelope missing message type")
	}
	return env, nil
}

func encodeEnvelope(source, msgType string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bridge: encode %s payload: %w", msgType, err)
	}
	env := Envelope{
		Source:  source,
		Version: Version,
		Message: rawMessage{Type: msgType, Payload: body},
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("bridge: encode envelope: %w", err)
	}
	return string(out), nil
}
