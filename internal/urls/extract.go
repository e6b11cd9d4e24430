// Package urls finds URLs in free-form text and derives their display domain.
package urls

import (
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	minCandidateLength = 4
	defaultScheme      = "https://"

	leadingPunctuation  = `([{<"'`
	trailingPunctuation = `.,!?;:)]}>"'`
)

// candidateExpr is deliberately permissive: scheme URLs, www. hosts and bare domain.tld
// forms embedded in prose. Brackets and quotes end a match so surrounding punctuation
// does not leak into it.
var candidateExpr = regexp.MustCompile(`(?i)\b(?:` +
	`(?:https?://|www\.)[^\s<>"'(){}\[\]]+` +
	`|[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,63}(?:[/?#][^\s<>"'(){}\[\]]*)?` +
	`)`)

// webURLExpr validates a cleaned candidate: http(s) scheme, optional userinfo, a dotted
// host name or IPv4 address, optional port, then anything without whitespace.
var webURLExpr = regexp.MustCompile(`(?i)^https?://` +
	`(?:[^\s/?#@]+@)?` +
	`(?:(?:[\p{L}\p{N}](?:[\p{L}\p{N}-]*[\p{L}\p{N}])?\.)+[\p{L}]{2,63}|(?:\d{1,3}\.){3}\d{1,3})` +
	`(?::\d{1,5})?` +
	`(?:[/?#]\S*)?$`)

// Extract returns the URLs found in text as a duplicate-free, ASCII-sorted slice.
// Candidates that do not look like web URLs are dropped; extraction never fails.
func Extract(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	found := mapset.NewThreadUnsafeSet[string]()

	candidates := candidateExpr.FindAllString(text, -1)
	// Whitespace tokens catch what the expression misses, e.g. odd punctuation at
	// string boundaries.
	candidates = append(candidates, strings.Fields(text)...)

	for _, candidate := range candidates {
		if u, ok := normalize(candidate); ok {
			found.Add(u)
		}
	}

	out := found.ToSlice()
	sort.Strings(out)
	return out
}

func normalize(candidate string) (string, bool) {
	cleaned := strings.TrimSpace(candidate)
	cleaned = strings.TrimRight(cleaned, trailingPunctuation)
	cleaned = strings.TrimLeft(cleaned, leadingPunctuation)
	if len(cleaned) < minCandidateLength {
		return "", false
	}

	if !strings.Contains(cleaned, "://") {
		if !strings.Contains(cleaned, ".") && !hasPrefixFold(cleaned, "www.") {
			return "", false
		}
		cleaned = defaultScheme + cleaned
	}

	if !hasPrefixFold(cleaned, "http://") && !hasPrefixFold(cleaned, "https://") {
		return "", false
	}
	if !strings.Contains(cleaned, ".") || !webURLExpr.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
