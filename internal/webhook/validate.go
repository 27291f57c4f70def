package webhook

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validation errors for webhook URLs. ErrSSRFBlocked is the family root;
// registration never persists an endpoint whose URL fails validation.
var (
	ErrInvalidURL  = errors.New("invalid webhook URL")
	ErrSSRFBlocked = errors.New("webhook URL blocked")
)

// metadataHostnames are cloud metadata endpoints that must never be
// delivery targets, independent of what they resolve to.
var metadataHostnames = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
}

// ValidateURL checks a webhook destination against SSRF rules. It rejects
// non-HTTP(S) schemes, literal loopback/link-local/unspecified hosts and
// known cloud metadata hostnames, and rejects hostnames that resolve to any
// such address (IPv4-mapped IPv6 forms included). When allowedDomains is
// non-empty the host must match one of the domain suffixes.
//
// Unresolvable hosts are permitted through rather than blocked: DNS is not
// authoritative at registration time in all deployments, and delivery to a
// dead name simply fails later.
func ValidateURL(rawURL string, allowedDomains []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: loopback host %q", ErrSSRFBlocked, host)
	}

	if _, ok := metadataHostnames[host]; ok {
		return fmt.Errorf("%w: metadata host %q", ErrSSRFBlocked, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isForbiddenIP(ip) {
			return fmt.Errorf("%w: address %s is not routable externally", ErrSSRFBlocked, ip)
		}
	} else {
		if err := checkAllowedDomains(host, allowedDomains); err != nil {
			return err
		}

		// Best-effort resolution; a hostname fronting an internal address
		// is as dangerous as the literal address.
		addrs, lookupErr := net.LookupIP(host)
		if lookupErr == nil {
			for _, addr := range addrs {
				if isForbiddenIP(addr) {
					return fmt.Errorf("%w: host %q resolves to %s", ErrSSRFBlocked, host, addr)
				}
			}
		}
	}

	return nil
}

// isForbiddenIP reports whether the address is loopback, private,
// link-local or unspecified. The net.IP predicates handle IPv4-mapped
// IPv6 addresses transparently.
func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// checkAllowedDomains enforces the optional domain allow-list. A host
// matches an entry when it equals the domain or is a subdomain of it.
func checkAllowedDomains(host string, allowedDomains []string) error {
	if len(allowedDomains) == 0 {
		return nil
	}

	for _, domain := range allowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}

	return fmt.Errorf("%w: host %q is not in the allowed domain list", ErrSSRFBlocked, host)
}
