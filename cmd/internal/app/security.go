package app

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateSecurityConfig enforces the transport policy at startup.
//
// Credentials and access tokens travel over both endpoints, so plaintext
// schemes are refused for non-loopback hosts unless AllowInsecure is set.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.AllowInsecure {
		return nil
	}
	for _, raw := range []string{cfg.APIBaseURL, cfg.WSURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("security policy: parse %q: %w", raw, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "https", "wss":
			continue
		case "http", "ws":
			if isLoopbackHost(u.Hostname()) {
				continue
			}
			return fmt.Errorf("security policy: %s uses plaintext %s; set CHATSHELL_ALLOW_INSECURE=true to permit it", u.Host, u.Scheme)
		default:
			return fmt.Errorf("security policy: unsupported scheme %q in %q", u.Scheme, raw)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
