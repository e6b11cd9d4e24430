package urls

import (
	"net/url"
	"strings"
)

// Domain returns the display domain of rawURL: the host, lower-cased, without a leading
// "www.". When the URL does not parse, the text between the first "://" and the next "/"
// is used instead. The second result is false when neither yields a host.
func Domain(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)

	if u, err := url.Parse(rawURL); err == nil {
		if host := u.Hostname(); host != "" {
			return stripWWW(host)
		}
	}

	_, rest, found := strings.Cut(rawURL, "://")
	if !found {
		return "", false
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return stripWWW(rest)
}

func stripWWW(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", false
	}
	return host, true
}
