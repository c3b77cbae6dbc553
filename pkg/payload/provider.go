package payload

import (
	"net/url"
	"strings"

	"github.com/sw33tLie/beaconscope/pkg/event"
)

// EndpointPatterns are the intake hosts whose requests get intercepted.
// A leading "*." matches the bare host and any subdomain of it.
var EndpointPatterns = []string{
	"api.segment.io",
	"*.segment.com",
	"*.segmentapis.com",
	"*.rudderstack.com",
	"*.rudderlabs.com",
	"*.hightouch-events.com",
	"api.june.so",
}

type providerPattern struct {
	substring string
	provider  event.Provider
}

// Evaluated in order, first match wins.
var providerPatterns = []providerPattern{
	{"segment.io", event.ProviderSegment},
	{"segment.com", event.ProviderSegment},
	{"segmentapis.com", event.ProviderSegment},
	{"rudderstack", event.ProviderRudderStack},
	{"rudderlabs", event.ProviderRudderStack},
	{"hightouch", event.ProviderHightouch},
	{"june.so", event.ProviderJune},
}

// DetectProvider matches the request host against the provider patterns.
func DetectProvider(rawURL string) event.Provider {
	host := hostOf(rawURL)
	if host == "" {
		return event.ProviderUnknown
	}
	for _, p := range providerPatterns {
		if strings.Contains(host, p.substring) {
			return p.provider
		}
	}
	return event.ProviderUnknown
}

// MatchesEndpoint reports whether rawURL points at one of the intake hosts.
func MatchesEndpoint(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, pattern := range EndpointPatterns {
		if hostMatches(pattern, host) {
			return true
		}
	}
	return false
}

func hostMatches(pattern, host string) bool {
	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == base || strings.HasSuffix(host, "."+base)
	}
	return host == pattern
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
