package protection

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the host-supplied configuration. Failures are
// CONFIG_ERROR categorized so the facade can short-circuit Init.
func (c Config) Validate() error {
	switch c.Variant {
	case VariantToggle, VariantCheckbox:
	default:
		return NewError(CategoryConfig, fmt.Sprintf("variant must be %q or %q", VariantToggle, VariantCheckbox))
	}
	switch c.Page {
	case PageCart, PageCheckout:
	default:
		return NewError(CategoryConfig, fmt.Sprintf("page must be %q or %q", PageCart, PageCheckout))
	}
	if strings.TrimSpace(c.RetailerMoniker) == "" {
		return NewError(CategoryConfig, "retailerMoniker is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return NewError(CategoryConfig, "region is required")
	}
	if len(strings.TrimSpace(c.Locale)) < 2 {
		return NewError(CategoryConfig, "locale must be at least 2 characters")
	}
	switch c.Environment {
	case "", EnvQA, EnvST, EnvProd:
	default:
		return NewError(CategoryConfig, fmt.Sprintf("environment %q is not one of qa, st, prod", c.Environment))
	}
	if c.ConfigURL != "" {
		parsed, err := url.Parse(c.ConfigURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return NewError(CategoryConfig, "configUrl must be an absolute URL")
		}
	}
	return nil
}

// WithDefaults returns a copy with the environment default applied.
func (c Config) WithDefaults() Config {
	if c.Environment == "" {
		c.Environment = EnvQA
	}
	return c
}

// Validate checks a remote pricing configuration after decoding.
func (c SecureConfig) Validate() error {
	if strings.TrimSpace(c.RetailerMoniker) == "" {
		return NewError(CategoryConfig, "secure config: retailerMoniker is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return NewError(CategoryConfig, "secure config: region is required")
	}
	if len(strings.TrimSpace(c.Locale)) < 2 {
		return NewError(CategoryConfig, "secure config: locale must be at least 2 characters")
	}
	if c.Pricing.Percentage < 0 || c.Pricing.FixedFee < 0 {
		return NewError(CategoryConfig, "secure config: pricing values cannot be negative")
	}
	for i, tier := range c.Pricing.Tiers {
		if tier.Threshold < 0 || tier.Percentage < 0 || tier.FixedFee < 0 {
			return NewError(CategoryConfig, fmt.Sprintf("secure config: tier %d has negative values", i))
		}
	}
	return nil
}

// Validate checks a cart snapshot before it is quoted.
func (c CartData) Validate() error {
	if c.Items == nil {
		return NewError(CategoryConfig, "cart: items is required")
	}
	for i, item := range c.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return NewError(CategoryConfig, fmt.Sprintf("cart: item %d sku is required", i))
		}
		if item.Quantity <= 0 {
			return NewError(CategoryConfig, fmt.Sprintf("cart: item %d quantity must be positive", i))
		}
		if item.Price < 0 {
			return NewError(CategoryConfig, fmt.Sprintf("cart: item %d price cannot be negative", i))
		}
		if item.TotalTax < 0 {
			return NewError(CategoryConfig, fmt.Sprintf("cart: item %d tax cannot be negative", i))
		}
	}
	if c.Subtotal < 0 {
		return NewError(CategoryConfig, "cart: subtotal cannot be negative")
	}
	if len(c.Currency) != 3 {
		return NewError(CategoryConfig, "cart: currency must be a 3-letter code")
	}
	if c.Fees < 0 {
		return NewError(CategoryConfig, "cart: fees cannot be negative")
	}
	if c.Discounts < 0 {
		return NewError(CategoryConfig, "cart: discounts cannot be negative")
	}
	return nil
}
