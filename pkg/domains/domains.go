// Package domains decides which sites may be captured and learns new ones.
package domains

import (
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// AllowedDomain is one allow-list entry. Domain is stored normalized.
type AllowedDomain struct {
	Domain          string `json:"domain" yaml:"domain"`
	AllowSubdomains bool   `json:"allowSubdomains" yaml:"allow_subdomains"`
}

// Action is the outcome of an auto-allow request.
type Action string

const (
	AlreadyAllowed Action = "already_allowed"
	Updated        Action = "updated"
	Added          Action = "added"
	Rejected       Action = "rejected"
)

// AutoAllowResult reports what AutoAllow did. Domain is the entry that now
// covers the requested domain.
type AutoAllowResult struct {
	Action          Action `json:"action"`
	Domain          string `json:"domain"`
	AllowSubdomains bool   `json:"allowSubdomains"`
	IsAllowed       bool   `json:"isAllowed"`
}

// Internal browser pages never carry analytics worth capturing.
var nonCapturableSchemes = map[string]bool{
	"chrome":               true,
	"chrome-extension":     true,
	"about":                true,
	"edge":                 true,
	"moz-extension":        true,
	"file":                 true,
	"data":                 true,
	"devtools":             true,
	"view-source":          true,
	"chrome-search":        true,
	"chrome-devtools":      true,
	"safari-web-extension": true,
}

// ExtractDomain returns the normalized hostname of rawURL with any port
// stripped. It reports false for internal browser pages and unparsable URLs.
func ExtractDomain(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return "", false
	}
	if nonCapturableSchemes[strings.ToLower(u.Scheme)] {
		return "", false
	}
	host := Normalize(u.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// Normalize lowercases domain, drops a trailing dot and strips one leading
// "www.".
func Normalize(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

// Matches reports whether domain is covered by an entry for allowed.
func Matches(domain, allowed string, allowSubdomains bool) bool {
	d, a := Normalize(domain), Normalize(allowed)
	if d == "" || a == "" {
		return false
	}
	if d == a {
		return true
	}
	return allowSubdomains && strings.HasSuffix(d, "."+a)
}

// IsAllowed reports whether any entry in list matches domain.
func IsAllowed(domain string, list []AllowedDomain) bool {
	for _, e := range list {
		if Matches(domain, e.Domain, e.AllowSubdomains) {
			return true
		}
	}
	return false
}

// AutoAllow admits domain, preferring to widen an existing exact entry over
// adding a new one. The returned slice is a new list; list is not modified.
//
// An exact entry that is itself a public suffix (github.io, vercel.app) is
// never widened, so allowing one tenant of a shared host does not allow
// every other tenant.
func AutoAllow(domain string, list []AllowedDomain) (AutoAllowResult, []AllowedDomain) {
	out := append([]AllowedDomain(nil), list...)
	d := Normalize(domain)
	if d == "" {
		return AutoAllowResult{Action: Rejected}, out
	}

	for _, e := range out {
		if Matches(d, e.Domain, e.AllowSubdomains) {
			return AutoAllowResult{Action: AlreadyAllowed, Domain: e.Domain, AllowSubdomains: e.AllowSubdomains, IsAllowed: true}, out
		}
	}

	for i, e := range out {
		if e.AllowSubdomains || !Matches(d, e.Domain, true) || IsPublicSuffix(e.Domain) {
			continue
		}
		out[i].AllowSubdomains = true
		return AutoAllowResult{Action: Updated, Domain: out[i].Domain, AllowSubdomains: true, IsAllowed: true}, out
	}

	out = append(out, AllowedDomain{Domain: d})
	return AutoAllowResult{Action: Added, Domain: d, IsAllowed: true}, out
}

// IsPublicSuffix reports whether domain is a suffix under which unrelated
// parties register names, according to the public suffix list.
func IsPublicSuffix(domain string) bool {
	d := Normalize(domain)
	if d == "" {
		return false
	}
	_, err := publicsuffix.Domain(d)
	return err != nil
}

// RegistrableDomain returns the eTLD+1 of domain, or false when it has none.
func RegistrableDomain(domain string) (string, bool) {
	root, err := publicsuffix.Domain(Normalize(domain))
	if err != nil {
		return "", false
	}
	return root, true
}
