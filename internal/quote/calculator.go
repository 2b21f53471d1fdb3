// Package quote computes shipping-protection premiums, either
// synchronously from cached pricing rules or via the signed edge
// quote service.
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/internal/configsvc"
	"github.com/narvar/shipping-protection-sdk/protection"
)

var tracer = otel.Tracer("github.com/narvar/shipping-protection-sdk/internal/quote")

const (
	defaultEdgeTimeout = 5 * time.Second
	maxQuoteBodySize   = 64 * 1024
)

// Calculator produces premium quotes for a single retailer session.
// It is constructed once per successful initialization with the
// fetched pricing configuration.
type Calculator struct {
	config protection.SecureConfig
	client *http.Client
	logger *zap.Logger
}

// Option customises Calculator construction.
type Option func(*Calculator)

// WithHTTPClient replaces the default HTTP client used for edge calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Calculator) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger installs a logger; nil is replaced with a nop.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCalculator constructs a calculator bound to cfg.
func NewCalculator(cfg protection.SecureConfig, opts ...Option) *Calculator {
	calc := &Calculator{
		config: cfg,
		client: &http.Client{Timeout: defaultEdgeTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(calc)
	}
	return calc
}

// Calculate computes a client-mode quote synchronously from the cached
// pricing rules. Base is subtotal plus fees minus discounts; when
// tiers are configured they fully replace the flat pricing, the
// selected tier being the greatest threshold not exceeding the base,
// falling back to the lowest tier when none qualifies.
func (c *Calculator) Calculate(cart protection.CartData) protection.Quote {
	base := cart.Subtotal + cart.Fees - cart.Discounts
	if base < 0 {
		base = 0
	}

	pct := c.config.Pricing.Percentage
	fixed := c.config.Pricing.FixedFee
	if tiers := c.config.Pricing.Tiers; len(tiers) > 0 {
		sorted := make([]protection.PricingTier, len(tiers))
		copy(sorted, tiers)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

		selected := sorted[len(sorted)-1]
		matched := false
		for i := len(sorted) - 1; i >= 0; i-- {
			if base >= sorted[i].Threshold {
				selected = sorted[i]
				matched = true
				break
			}
		}
		if !matched {
			// Nothing qualifies; the lowest tier is the fallback.
			selected = sorted[0]
		}
		pct = selected.Percentage
		fixed = selected.FixedFee
	}

	return protection.Quote{
		Amount:   roundCents(base*(pct/100) + fixed),
		Currency: cart.Currency,
		Source:   protection.SourceClient,
	}
}

// edgeQuoteRequest is the wire shape of POST /v1/quote. All monetary
// fields are minor units (cents).
type edgeQuoteRequest struct {
	Currency        string          `json:"currency"`
	Locale          string          `json:"locale"`
	OrderItems      []edgeOrderItem `json:"order_items"`
	ShipTo          string          `json:"ship_to"`
	ShippingFee     int64           `json:"shipping_fee"`
	ShippingFeeTax  int64           `json:"shipping_fee_tax"`
	RetailerMoniker string          `json:"retailer_moniker"`
}

type edgeOrderItem struct {
	LinePrice int64  `json:"line_price"`
	Quantity  int    `json:"quantity"`
	SKU       string `json:"sku"`
	TotalTax  int64  `json:"total_tax"`
}

// edgeQuoteResponse is the wire shape of the edge quote reply.
type edgeQuoteResponse struct {
	Eligible string `json:"eligible"`
	Quote    struct {
		PremiumValue int64 `json:"premium_value"`
	} `json:"quote"`
	Signature        *protection.QuoteSignature `json:"signature"`
	IneligibleReason *string                    `json:"ineligible_reason"`
}

const eligibleValue = "eligible"

// CalculateWithEdge requests a server-mode quote from the edge quote
// endpoint. Cart amounts are converted to minor units for transmission
// and the returned premium back to major units. Transport failures and
// non-2xx responses yield NETWORK_ERROR.
func (c *Calculator) CalculateWithEdge(ctx context.Context, cart protection.CartData, sdkConfig protection.Config) (protection.Quote, error) {
	ctx, span := tracer.Start(ctx, "quote.CalculateWithEdge")
	span.SetAttributes(
		attribute.String("retailer.moniker", sdkConfig.RetailerMoniker),
		attribute.String("cart.currency", cart.Currency),
	)
	defer span.End()

	body := edgeQuoteRequest{
		Currency:        cart.Currency,
		Locale:          sdkConfig.Locale,
		OrderItems:      make([]edgeOrderItem, 0, len(cart.Items)),
		ShipTo:          strings.ToUpper(sdkConfig.Region),
		ShippingFee:     toCents(cart.Fees),
		ShippingFeeTax:  0,
		RetailerMoniker: sdkConfig.RetailerMoniker,
	}
	for _, item := range cart.Items {
		body.OrderItems = append(body.OrderItems, edgeOrderItem{
			LinePrice: toCents(item.Price),
			Quantity:  item.Quantity,
			SKU:       item.SKU,
			TotalTax:  toCents(item.TotalTax),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return protection.Quote{}, protection.NewError(protection.CategoryUnknown, "failed to encode quote request").WithCause(err)
	}

	url := configsvc.QuoteURL(sdkConfig.RetailerMoniker, sdkConfig.Environment)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return protection.Quote{}, protection.NewError(protection.CategoryNetwork, "invalid quote endpoint").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("edge quote transport failure", zap.String("url", url), zap.Error(err))
		return protection.Quote{}, protection.NewError(protection.CategoryNetwork, "failed to fetch edge quote").
			WithCause(err).
			WithRetryable(true)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("edge quote rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return protection.Quote{}, protection.NewError(protection.CategoryNetwork,
			fmt.Sprintf("edge API returned %d", resp.StatusCode)).
			WithRetryable(resp.StatusCode >= 500)
	}

	var edgeResp edgeQuoteResponse
	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxQuoteBodySize))
	if err := decoder.Decode(&edgeResp); err != nil {
		return protection.Quote{}, protection.NewError(protection.CategoryNetwork, "invalid edge quote response").WithCause(err)
	}

	eligible := edgeResp.Eligible == eligibleValue
	q := protection.Quote{
		Amount:           fromCents(edgeResp.Quote.PremiumValue),
		Currency:         cart.Currency,
		Eligible:         &eligible,
		Signature:        edgeResp.Signature,
		IneligibleReason: edgeResp.IneligibleReason,
		Source:           protection.SourceServer,
	}
	return q, nil
}

// roundCents rounds to two decimals, half away from zero on the cent
// boundary. Inputs are non-negative so this is round-half-up.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func toCents(major float64) int64 {
	return int64(math.Round(major * 100))
}

func fromCents(minor int64) float64 {
	return float64(minor) / 100
}
