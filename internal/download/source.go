package download

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ytget/mediarelay/internal/model"
)

// ValidateSource accepts only absolute http and https URLs with a host
func ValidateSource(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", model.ErrUnsupportedSource)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnsupportedSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http or https", model.ErrUnsupportedSource, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", model.ErrUnsupportedSource)
	}
	return u, nil
}

// matchHost reports whether host equals domain or is one of its subdomains
func matchHost(host, domain string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// hostOf returns the lowercased host of source, or "" when it is not a URL
func hostOf(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
