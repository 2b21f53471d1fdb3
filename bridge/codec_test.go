package bridge

import (
	"strings"
	"testing"

	"github.com/narvar/shipping-protection-sdk/protection"
)

func validInitConfig() protection.Config {
	return protection.Config{
		Variant:         protection.VariantToggle,
		Page:            protection.PageCart,
		RetailerMoniker: "acme",
		Region:          "us",
		Locale:          "en-US",
	}
}

func TestHostEnvelopeRoundTrip(t *testing.T) {
	raw, err := EncodeHostMessage(InitMessage{Config: validInitConfig()})
	if err != nil {
		t.Fatalf("EncodeHostMessage: %v", err)
	}
	if !strings.Contains(raw, SourceHost) || !strings.Contains(raw, `"version":"1.0"`) {
		t.Fatalf("envelope = %s", raw)
	}

	msg, err := DecodeHostEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeHostEnvelope: %v", err)
	}
	init, ok := msg.(InitMessage)
	if !ok {
		t.Fatalf("decoded %T, want InitMessage", msg)
	}
	if init.Config.RetailerMoniker != "acme" {
		t.Fatalf("config = %+v", init.Config)
	}
	// Defaults are applied during decode.
	if init.Config.Environment != protection.EnvQA {
		t.Fatalf("environment = %s, want qa default", init.Config.Environment)
	}
}

func TestWidgetEnvelopeRoundTrip(t *testing.T) {
	eligible := true
	quote := protection.Quote{
		Amount:   4.50,
		Currency: "USD",
		Eligible: &eligible,
		Source:   protection.SourceServer,
		Signature: &protection.QuoteSignature{
			JWS:       "a.b.c",
			CreatedAt: 1700000000,
			ExpiresAt: 1700000600,
		},
	}

	raw, err := EncodeWidgetMessage(QuoteAvailableMessage{Quote: quote})
	if err != nil {
		t.Fatalf("EncodeWidgetMessage: %v", err)
	}

	msg, err := DecodeWidgetEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeWidgetEnvelope: %v", err)
	}
	got, ok := msg.(QuoteAvailableMessage)
	if !ok {
		t.Fatalf("decoded %T, want QuoteAvailableMessage", msg)
	}
	if got.Quote.Amount != 4.50 || got.Quote.Signature == nil || got.Quote.Signature.JWS != "a.b.c" {
		t.Fatalf("quote = %+v", got.Quote)
	}
}

func TestDecode_MisSourcedEnvelopeRejected(t *testing.T) {
	hostRaw, err := EncodeHostMessage(DestroyMessage{})
	if err != nil {
		t.Fatalf("EncodeHostMessage: %v", err)
	}
	widgetRaw, err := EncodeWidgetMessage(RemoveProtectionMessage{})
	if err != nil {
		t.Fatalf("EncodeWidgetMessage: %v", err)
	}

	// A host-sourced envelope must never decode on the host's inbound
	// side, and vice versa.
	if _, err := DecodeWidgetEnvelope(hostRaw); err == nil {
		t.Fatal("host-sourced envelope accepted as widget traffic")
	}
	if _, err := DecodeHostEnvelope(widgetRaw); err == nil {
		t.Fatal("widget-sourced envelope accepted as host traffic")
	}
}

func TestDecode_VersionMismatchRejected(t *testing.T) {
	raw := `{"source":"narvar-shipping-protection-host","version":"2.0","message":{"type":"destroy","payload":{}}}`
	if _, err := DecodeHostEnvelope(raw); err == nil {
		t.Fatal("envelope with version 2.0 accepted")
	}
}

func TestDecode_MalformedEnvelopeRejected(t *testing.T) {
	cases := []string{
		``,
		`not json`,
		`{}`,
		`{"source":"narvar-shipping-protection-host","version":"1.0"}`,
		`{"source":"narvar-shipping-protection-host","version":"1.0","message":{"payload":{}}}`,
	}
	for _, raw := range cases {
		if _, err := DecodeHostEnvelope(raw); err == nil {
			t.Errorf("accepted malformed envelope %q", raw)
		}
	}
}

func TestDecode_MissingPayloadRejected(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"init absent payload", `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"init"}}`},
		{"init null payload", `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"init","payload":null}}`},
		{"render absent payload", `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"render"}}`},
		{"init payload wrong shape", `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"init","payload":[1,2]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeHostEnvelope(tc.raw); err == nil {
				t.Fatal("envelope without a usable payload accepted")
			}
		})
	}

	widgetCases := []string{
		`{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"ready"}}`,
		`{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"quote-available","payload":null}}`,
	}
	for _, raw := range widgetCases {
		if _, err := DecodeWidgetEnvelope(raw); err == nil {
			t.Errorf("accepted widget envelope without payload: %s", raw)
		}
	}
}

func TestDecode_UnknownTypeRejected(t *testing.T) {
	raw := `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"explode","payload":{}}}`
	if _, err := DecodeHostEnvelope(raw); err == nil {
		t.Fatal("unknown message type accepted")
	}
}

func TestDecodeHost_PayloadValidation(t *testing.T) {
	badInit := `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"init","payload":{"variant":"banner"}}}`
	if _, err := DecodeHostEnvelope(badInit); err == nil {
		t.Fatal("init with invalid variant accepted")
	}

	badRender := `{"source":"narvar-shipping-protection-host","version":"1.0","message":{"type":"render","payload":{"items":[{"sku":"S","quantity":0,"price":1}],"subtotal":1,"currency":"USD"}}}`
	if _, err := DecodeHostEnvelope(badRender); err == nil {
		t.Fatal("render with zero quantity accepted")
	}
}

func TestDecodeWidget_PayloadValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"ready missing version", `{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"ready","payload":{}}}`},
		{"quote bad source", `{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"quote-available","payload":{"quote":{"amount":1,"currency":"USD","source":"oracle"}}}}`},
		{"quote bad currency", `{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"quote-available","payload":{"quote":{"amount":1,"currency":"$","source":"client"}}}}`},
		{"add-protection missing currency", `{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"add-protection","payload":{"amount":2.5}}}`},
		{"error invalid category", `{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"error","payload":{"error":{"category":"OOPS","message":"x"}}}}`},
		{"negative height", `{"source":"narvar-shipping-protection-widget","version":"1.0","message":{"type":"height-change","payload":{"height":-1}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeWidgetEnvelope(tc.raw); err == nil {
				t.Fatal("invalid payload accepted")
			}
		})
	}
}

func TestSerializeError(t *testing.T) {
	werr := protection.NewError(protection.CategoryNetwork, "edge down").WithRetryable(true)
	got := SerializeError(werr)
	if got.Category != protection.CategoryNetwork || got.Message != "edge down" || !got.Retryable {
		t.Fatalf("serialized = %+v", got)
	}

	raw, err := EncodeWidgetMessage(ErrorMessage{Error: got})
	if err != nil {
		t.Fatalf("EncodeWidgetMessage: %v", err)
	}
	msg, err := DecodeWidgetEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeWidgetEnvelope: %v", err)
	}
	if back := msg.(ErrorMessage).Error; back != got {
		t.Fatalf("round-tripped error = %+v, want %+v", back, got)
	}
}
