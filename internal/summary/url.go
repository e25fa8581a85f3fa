package summary

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates that raw is an absolute http(s) URL with a host and
// returns its canonical form: trimmed, lowercase scheme and host, no fragment.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %w", ErrInvalidInput, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: url must use http or https", ErrInvalidInput)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url must include a host", ErrInvalidInput)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
