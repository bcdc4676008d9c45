// Package httpclient provides the outbound HTTP client used for remote API
// calls. It refuses hosts outside an allow-list and, unless told otherwise,
// any host that resolves to a private or loopback address.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/zbulk/errors"
)

// Options tune a SaferClient
type Options struct {
	Timeout time.Duration

	// AllowedHostSuffixes restricts requests to hosts ending in one of the
	// suffixes, e.g. ".zohoapis.com". Empty allows any public host.
	AllowedHostSuffixes []string

	// AllowPrivateHosts disables private/loopback blocking and the host
	// allow-list. Used for tests and on-prem proxies.
	AllowPrivateHosts bool

	MaxRedirects int // 0 = 5
}

// SaferClient wraps http.Client with host validation on every request,
// redirect and dial
type SaferClient struct {
	*http.Client
	opts Options
}

// New creates a SaferClient
func New(opts Options) *SaferClient {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}

	c := &SaferClient{
		Client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.opts.MaxRedirects {
			return errors.Newf("stopped after %d redirects", c.opts.MaxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if !opts.AllowPrivateHosts {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			DialContext:           guardedDial(dialer),
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	}

	return c
}

// guardedDial resolves the host itself so a DNS answer pointing at a private
// address is caught at connect time, not just at URL validation
func guardedDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}

		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve host %q", host)
		}
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, errors.Newf("private IP address blocked: %s", ip)
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}

// ValidateURL parses and validates a URL before a request is built
func (c *SaferClient) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && !(scheme == "http" && c.opts.AllowPrivateHosts) {
		return errors.Newf("scheme %q not allowed", scheme)
	}
	if u.User != nil {
		// http://api.example.com@127.0.0.1/ style confusion
		return errors.New("URL must not carry user info")
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return errors.New("URL missing hostname")
	}
	if c.opts.AllowPrivateHosts {
		return nil
	}

	if isLocalhost(hostname) {
		return errors.New("localhost access blocked")
	}
	if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
		return errors.Newf("private IP address blocked: %s", hostname)
	}
	if len(c.opts.AllowedHostSuffixes) > 0 && !hasAllowedSuffix(hostname, c.opts.AllowedHostSuffixes) {
		return errors.Newf("host %q is not an allowed API host", hostname)
	}
	return nil
}

func hasAllowedSuffix(hostname string, suffixes []string) bool {
	for _, s := range suffixes {
		s = strings.ToLower(s)
		if hostname == strings.TrimPrefix(s, ".") || strings.HasSuffix(hostname, s) {
			return true
		}
	}
	return false
}

// isPrivateIP reports loopback, RFC 1918, link-local, unspecified, multicast
// and IPv6 unique-local addresses
func isPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
		// 0.0.0.0/8 and 240.0.0.0/4 are not covered by the net helpers
		if ip[0] == 0 || ip[0] >= 240 {
			return true
		}
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

func isLocalhost(hostname string) bool {
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// Do validates the request URL, then sends it
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}
