package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Hostnames that must never receive webhook deliveries, regardless of
// what they resolve to.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
}

// ValidateWebhookURL checks that a subscriber-supplied delivery URL is safe
// to request from the server side. Private, loopback, link-local, and
// unspecified addresses are rejected to prevent SSRF; hostnames are resolved
// and every resolved address is checked, not just the literal host.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}

	if blockedHosts[strings.ToLower(host)] {
		return fmt.Errorf("URL host %q is not allowed", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		// IP literal, nothing to resolve
		return checkDeliveryIP(ip)
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, addr := range addrs {
		resolved := net.ParseIP(addr)
		if resolved == nil {
			continue
		}
		if err := checkDeliveryIP(resolved); err != nil {
			return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
		}
	}

	return nil
}

func checkDeliveryIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
