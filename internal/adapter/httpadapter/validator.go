package httpadapter

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidator guards the http.request adapter against SSRF and local-file
// access: only http/https to a public, non-loopback/private/link-local
// target is allowed. Adapted from the reference's cmd/http-worker/security
// validators (collapsed from four cooperating types into one, since this
// adapter has no need for their GetBlockedExamples/ValidationReport
// introspection surface).
type URLValidator struct {
	blockedHostnames map[string]bool
	blockedPathParts []string
}

// NewURLValidator builds a validator with the reference's default
// blocklists.
func NewURLValidator() *URLValidator {
	return &URLValidator{
		blockedHostnames: map[string]bool{
			"localhost": true, "127.0.0.1": true, "::1": true,
			"0.0.0.0": true, "::": true,
		},
		blockedPathParts: []string{
			"file://", "../", "..\\", "/etc/", "/proc/", "/sys/",
			"c:/", "c:\\", "%2e%2e", "..%2f", "..%5c",
		},
	}
}

// Validate rejects urlStr unless it is a well-formed http(s) URL to a
// public host with a safe request path.
func (v *URLValidator) Validate(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("protocol %q is not allowed, only http/https", parsed.Scheme)
	}

	if err := v.validateHost(parsed.Hostname()); err != nil {
		return err
	}

	normalizedPath := strings.ToLower(parsed.Path)
	for _, blocked := range v.blockedPathParts {
		if strings.Contains(normalizedPath, blocked) {
			return fmt.Errorf("path contains blocked pattern %q", blocked)
		}
	}
	return nil
}

func (v *URLValidator) validateHost(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if v.blockedHostnames[strings.ToLower(hostname)] {
		return fmt.Errorf("hostname %q is blocked (SSRF protection)", hostname)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// DNS resolution failures are left for the HTTP client itself to
		// surface; this validator only blocks resolvable unsafe targets.
		return nil
	}
	for _, ip := range ips {
		if err := validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func validateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("ip %s is blocked (loopback)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("ip %s is blocked (private network)", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("ip %s is blocked (link-local)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("ip %s is blocked (multicast)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("ip %s is blocked (unspecified)", ip)
	}
	return nil
}
