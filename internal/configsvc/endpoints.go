package configsvc

import (
	"fmt"

	"github.com/narvar/shipping-protection-sdk/protection"
)

// envDomains maps an environment to the edge-compute DNS suffix used
// when deriving endpoint URLs from a retailer moniker.
var envDomains = map[protection.Environment]string{
	protection.EnvQA:   "qa20.narvar.qa",
	protection.EnvST:   "st.narvar.com",
	protection.EnvProd: "narvar.com",
}

// EdgeBaseURL returns the retailer-scoped edge-compute origin for env.
// Unknown environments fall back to QA, matching the SDK-wide default.
func EdgeBaseURL(retailerMoniker string, env protection.Environment) string {
	domain, ok := envDomains[env]
	if !ok {
		domain = envDomains[protection.EnvQA]
	}
	return fmt.Sprintf("https://edge-compute-f.%s.domain-ship.%s", retailerMoniker, domain)
}

// DeriveConfigURL builds the default pricing-config URL for a retailer
// when the host does not supply an explicit one.
func DeriveConfigURL(retailerMoniker string, env protection.Environment) string {
	return fmt.Sprintf("%s/v1/config/%s", EdgeBaseURL(retailerMoniker, env), retailerMoniker)
}

// QuoteURL is the edge quote endpoint for a retailer.
func QuoteURL(retailerMoniker string, env protection.Environment) string {
	return EdgeBaseURL(retailerMoniker, env) + "/v1/quote"
}

// JWKSURL is the well-known key-set endpoint used to verify quote
// signatures issued by the edge for a retailer.
func JWKSURL(retailerMoniker string, env protection.Environment) string {
	return EdgeBaseURL(retailerMoniker, env) + "/.well-known/jwks.json"
}
