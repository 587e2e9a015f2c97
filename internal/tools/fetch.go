package tools

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	fetchMaxBody   = 5 * 1024 * 1024
	fetchRedirects = 3
)

// fetcher guards outbound HTTP for the analyze tool. Requests to
// private networks, localhost, and cloud metadata endpoints are
// refused, including via redirects.
type fetcher struct {
	client *http.Client
}

func newFetcher(timeout time.Duration) *fetcher {
	f := &fetcher{}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchRedirects)
			}
			if err := checkURL(req.URL); err != nil {
				return fmt.Errorf("redirect to unsafe url: %w", err)
			}
			return nil
		},
	}
	return f
}

// parseTarget validates a user-supplied URL before any network I/O.
func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := checkURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func checkURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme %q (only http/https)", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if blockedHost(host) {
		return fmt.Errorf("access to internal hosts is not allowed")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("access to internal address %s is not allowed", ip)
		}
	}
	return nil
}

func blockedHost(host string) bool {
	blocked := []string{
		"localhost",
		"metadata",
		"metadata.google.internal",
		"169.254.169.254",
	}
	return slices.Contains(blocked, host)
}
