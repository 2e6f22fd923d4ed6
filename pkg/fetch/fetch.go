// Package fetch is the shared HTTP client used by source adapters and the
// validator. Requests can be routed through an upstream proxy.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	netproxy "golang.org/x/net/proxy"

	"proxypool/pkg/failure"
)

// MaxBodySize caps how much of a response body is read.
const MaxBodySize = 4 << 20

// Config holds the client settings.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Upstream is a proxy requests are routed through.
type Upstream struct {
	Protocol string
	Host     string
	Port     int
}

// Address returns host:port.
func (u Upstream) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// URL returns the proxy URL used by the transport.
func (u Upstream) URL() *url.URL {
	scheme := u.Protocol
	switch scheme {
	case "http", "https":
		// HTTPS candidates are plain HTTP proxies that support CONNECT
		scheme = "http"
	case "socks4", "socks5":
	default:
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: u.Address()}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// Client performs GET requests with browser-like headers.
type Client struct {
	timeout   time.Duration
	userAgent string
	direct    *http.Client
}

// NewClient creates a client with the given configuration.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 12 * time.Second
	}
	return &Client{
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
		direct: &http.Client{
			Timeout:   config.Timeout,
			Transport: &http.Transport{Proxy: nil, TLSHandshakeTimeout: 5 * time.Second},
		},
	}
}

// Get fetches rawURL, optionally through upstream. Transport failures are
// classified; non-2xx responses return both the response and an HTTPStatus
// error.
func (c *Client) Get(ctx context.Context, rawURL string, upstream *Upstream) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	client := c.direct
	if upstream != nil {
		client, err = c.proxiedClient(*upstream)
		if err != nil {
			return nil, failure.New(failure.KindConnectivity, "fetch", err)
		}
		defer client.CloseIdleConnections()
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, failure.Classify("fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	elapsed := time.Since(start)
	if err != nil {
		return nil, failure.Classify("read body", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body, Elapsed: elapsed}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, failure.HTTPStatus("fetch", resp.StatusCode)
	}
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Referer", "http://"+req.URL.Host+"/")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("DNT", "1")
}

func (c *Client) proxiedClient(upstream Upstream) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: 0,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		IdleConnTimeout:       1 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch upstream.Protocol {
	case "socks4", "socks5":
		dialer, err := createSOCKSDialer(upstream.Address())
		if err != nil {
			return nil, err
		}
		transport.DialContext = dialer.DialContext
	default:
		transport.Proxy = http.ProxyURL(upstream.URL())
	}

	return &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
	}, nil
}

// createSOCKSDialer creates a SOCKS5 dialer (works for most SOCKS4 proxies too)
func createSOCKSDialer(addr string) (netproxy.ContextDialer, error) {
	dialer, err := netproxy.SOCKS5("tcp", addr, nil, netproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS dialer: %w", err)
	}
	cd, ok := dialer.(netproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS dialer for %s does not support contexts", addr)
	}
	return cd, nil
}
