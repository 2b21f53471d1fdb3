// Package protection defines the data model shared by the shipping
// protection SDK: host configuration, remote pricing configuration,
// cart snapshots, quotes, and the categorized error taxonomy.
package protection

// Variant selects the widget presentation the host renders.
type Variant string

const (
	VariantToggle   Variant = "toggle"
	VariantCheckbox Variant = "checkbox"
)

// Page identifies the surface embedding the widget and determines the
// quote mode: checkout pages use server-signed quotes, everything else
// computes client-side.
type Page string

const (
	PageCart     Page = "cart"
	PageCheckout Page = "checkout"
)

// Environment selects the edge-compute deployment the SDK talks to.
type Environment string

const (
	EnvQA   Environment = "qa"
	EnvST   Environment = "st"
	EnvProd Environment = "prod"
)

// QuoteSource records which side computed the premium.
type QuoteSource string

const (
	SourceClient QuoteSource = "client"
	SourceServer QuoteSource = "server"
)

// Config is the host-supplied initialization configuration. It is
// validated once per Init call and immutable for that session.
type Config struct {
	Variant         Variant     `json:"variant"`
	Page            Page        `json:"page"`
	RetailerMoniker string      `json:"retailerMoniker"`
	Region          string      `json:"region"`
	Locale          string      `json:"locale"`
	Environment     Environment `json:"environment,omitempty"`
	ConfigURL       string      `json:"configUrl,omitempty"`
}

// PricingTier is a threshold-based pricing bracket. The selected tier
// is the one with the greatest threshold not exceeding the cart base.
type PricingTier struct {
	Threshold  float64 `json:"threshold"`
	Percentage float64 `json:"percentage,omitempty"`
	FixedFee   float64 `json:"fixedFee,omitempty"`
}

// Pricing carries the retailer's premium rules: either a flat
// percentage plus fixed fee, or ordered tiers that replace both.
type Pricing struct {
	Percentage float64       `json:"percentage,omitempty"`
	FixedFee   float64       `json:"fixedFee,omitempty"`
	Tiers      []PricingTier `json:"tiers,omitempty"`
}

// SecureConfig is the remote pricing policy fetched from the edge
// config endpoint during initialization.
type SecureConfig struct {
	RetailerMoniker string  `json:"retailerMoniker"`
	Region          string  `json:"region"`
	Locale          string  `json:"locale"`
	Pricing         Pricing `json:"pricing"`
}

// CartItem is a single cart line. Price is in the currency's major
// unit (dollars, not cents).
type CartItem struct {
	SKU        string   `json:"sku"`
	Quantity   int      `json:"quantity"`
	Price      float64  `json:"price"`
	TotalTax   float64  `json:"total_tax,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// CartData is the cart snapshot quoted against. It is supplied fresh
// on every Render call and not retained beyond the calculation.
type CartData struct {
	Items     []CartItem `json:"items"`
	Subtotal  float64    `json:"subtotal"`
	Currency  string     `json:"currency"`
	Fees      float64    `json:"fees,omitempty"`
	Discounts float64    `json:"discounts,omitempty"`
}

// QuoteSignature is the time-bounded cryptographic signature attached
// to server quotes. CreatedAt and ExpiresAt are unix seconds.
type QuoteSignature struct {
	JWS       string `json:"jws"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Quote is a computed or fetched premium. Client quotes never carry a
// signature or eligibility flag; server quotes always carry
// Source == SourceServer and may be ineligible.
type Quote struct {
	Amount           float64         `json:"amount"`
	Currency         string          `json:"currency"`
	Eligible         *bool           `json:"eligible,omitempty"`
	Signature        *QuoteSignature `json:"signature,omitempty"`
	IneligibleReason *string         `json:"ineligible_reason,omitempty"`
	Source           QuoteSource     `json:"source"`
}

// CustomerIdentity is accepted by SetCustomerIdentity. It is currently
// inert; the field set is reserved for the analytics integration.
type CustomerIdentity struct {
	CustomerID string `json:"customerId,omitempty"`
	EmailID    string `json:"emailId,omitempty"`
}
