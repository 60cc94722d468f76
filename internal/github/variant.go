package github

import (
	"net/url"
	"strings"
)

// Variant is the flavour of the hosting product the run talks to.
type Variant string

const (
	VariantDotcom Variant = "dotcom"
	VariantGHES   Variant = "ghes"
	VariantGHAE   Variant = "ghae"
)

// Version describes the hosting product, as recorded by the init step.
type Version struct {
	Type    Variant `json:"type" mapstructure:"type"`
	Version string  `json:"version,omitempty" mapstructure:"version"`
}

// DetectVariant infers the variant from GITHUB_SERVER_URL when no version
// was recorded.
func DetectVariant(serverURL string) Variant {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil || u.Host == "" {
		return VariantGHES
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "github.com" || host == "www.github.com":
		return VariantDotcom
	case strings.HasSuffix(host, ".ghe.com"):
		return VariantGHAE
	default:
		return VariantGHES
	}
}

// ParseVariant normalizes a recorded variant name; unknown values map to "".
func ParseVariant(raw string) Variant {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case VariantDotcom:
		return VariantDotcom
	case VariantGHES:
		return VariantGHES
	case VariantGHAE:
		return VariantGHAE
	default:
		return ""
	}
}
