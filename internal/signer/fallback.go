package signer

import (
	"regexp"
	"strings"
)

// FallbackRule rewrites a request path when the primary path returns 404.
// Pattern is matched against the path without its query string.
type FallbackRule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

// DefaultFallbacks encodes the path drift seen across futures API versions.
// Rules are tried in order after the primary path.
var DefaultFallbacks = []FallbackRule{
	{Name: "account-v2", Pattern: regexp.MustCompile(`^/fapi/v1/account$`), Replace: "/fapi/v2/account"},
	{Name: "account-v3", Pattern: regexp.MustCompile(`^/fapi/v[12]/account$`), Replace: "/fapi/v3/account"},
	{Name: "position-v2", Pattern: regexp.MustCompile(`^/fapi/v1/positionRisk$`), Replace: "/fapi/v2/positionRisk"},
	{Name: "position-v3", Pattern: regexp.MustCompile(`^/fapi/v[12]/positionRisk$`), Replace: "/fapi/v3/positionRisk"},
	{Name: "ticker-mark-price", Pattern: regexp.MustCompile(`^/fapi/v\d+/ticker/price$`), Replace: "/fapi/v1/premiumIndex"},
	{Name: "strip-version", Pattern: regexp.MustCompile(`^/([a-z]+)/v\d+/(.+)$`), Replace: "/$1/$2"},
}

// Variants returns the primary path followed by every distinct rewrite
// produced by rules, in rule order. The query string is carried over.
func Variants(path string, rules []FallbackRule) []string {
	base, query, hasQuery := strings.Cut(path, "?")
	out := []string{path}
	seen := map[string]bool{base: true}
	for _, r := range rules {
		if r.Pattern == nil || !r.Pattern.MatchString(base) {
			continue
		}
		rewritten := r.Pattern.ReplaceAllString(base, r.Replace)
		if seen[rewritten] {
			continue
		}
		seen[rewritten] = true
		if hasQuery {
			rewritten += "?" + query
		}
		out = append(out, rewritten)
	}
	return out
}
