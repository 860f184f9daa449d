package egress

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrBlocked is returned for any request the allowlist refuses. Callers
// match it with errors.Is; the wrapped message names the refused target.
var ErrBlocked = errors.New("egress blocked")

// AllowlistRoundTripper permits HTTPS requests to a fixed set of hosts and
// refuses everything else, including raw IP addresses.
type AllowlistRoundTripper struct {
	Base  http.RoundTripper
	Hosts map[string]bool
}

func NewAllowlistRoundTripper(base http.RoundTripper, hosts []string) *AllowlistRoundTripper {
	allowed := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		allowed[strings.ToLower(host)] = true
	}
	return &AllowlistRoundTripper{Base: base, Hosts: allowed}
}

// Client wraps the default transport in an allowlist for the given hosts.
// Every outbound HTTP client in this codebase goes through here.
func Client(timeout time.Duration, hosts ...string) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewAllowlistRoundTripper(http.DefaultTransport, hosts),
	}
}

func (rt *AllowlistRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, fmt.Errorf("%w: request has no URL", ErrBlocked)
	}
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not https", ErrBlocked, req.URL.Scheme)
	}
	host := req.URL.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBlocked)
	}
	if net.ParseIP(host) != nil {
		return nil, fmt.Errorf("%w: raw IP address %s", ErrBlocked, host)
	}
	if !rt.Hosts[strings.ToLower(host)] {
		return nil, fmt.Errorf("%w: host %s not allowlisted", ErrBlocked, host)
	}
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
