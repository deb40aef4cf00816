package shortlink

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeDestination validates a destination URL and returns it in a
// canonical form:
//   - Requires an absolute http or https URL with a host
//   - Lowercases the scheme and host
//   - Removes default ports (80 for http, 443 for https)
//   - Removes trailing slashes from path (unless path is just "/")
//   - Removes empty fragment
//
// Returns ErrInvalidDestination for anything that does not parse as an
// absolute web address.
func NormalizeDestination(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidDestination, rawURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidDestination)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidDestination)
	}

	u.Host = strings.ToLower(u.Host)

	// Remove default ports
	host := u.Host
	if strings.HasSuffix(host, ":80") && u.Scheme == "http" {
		u.Host = strings.TrimSuffix(host, ":80")
	} else if strings.HasSuffix(host, ":443") && u.Scheme == "https" {
		u.Host = strings.TrimSuffix(host, ":443")
	}

	// Remove trailing slash from path (but keep "/" for root)
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	// Remove empty fragment
	u.Fragment = ""

	return u.String(), nil
}
