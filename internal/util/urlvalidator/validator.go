// Package urlvalidator validates and normalizes user-supplied URLs before
// they are stored or used as OAuth redirect scopes.
package urlvalidator

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationOptions tunes ValidateHTTPURL.
type ValidationOptions struct {
	// AllowedHosts restricts the host to the listed names. Entries may use
	// a "*." prefix to match subdomains.
	AllowedHosts []string
	// RequireAllowlist rejects every URL when AllowedHosts is empty.
	RequireAllowlist bool
	// AllowPrivate permits loopback and private-network hosts.
	AllowPrivate bool
}

// ValidateURLFormat checks that raw is an absolute http(s) URL with a valid
// host and port, and returns it with trailing slashes removed.
func ValidateURLFormat(raw string, allowInsecureHTTP bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !allowInsecureHTTP {
			return "", fmt.Errorf("http urls are not allowed")
		}
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("url has no host")
	}
	if port := u.Port(); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			return "", fmt.Errorf("invalid port %q", port)
		}
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// ValidateHTTPURL runs ValidateURLFormat and then applies the host policy
// from opts.
func ValidateHTTPURL(raw string, allowInsecureHTTP bool, opts ValidationOptions) (string, error) {
	normalized, err := ValidateURLFormat(raw, allowInsecureHTTP)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	if opts.RequireAllowlist && len(opts.AllowedHosts) == 0 {
		return "", fmt.Errorf("no hosts are allowlisted")
	}
	if len(opts.AllowedHosts) > 0 && !hostAllowed(host, opts.AllowedHosts) {
		return "", fmt.Errorf("host %q is not allowlisted", host)
	}
	if !opts.AllowPrivate && isPrivateHost(host) {
		return "", fmt.Errorf("host %q is not allowed", host)
	}

	return normalized, nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
	}
	return false
}
