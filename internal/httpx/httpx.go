package httpx

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const DefaultUserAgent = "upsnapshot/1.0"

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// New builds a client whose transport speaks HTTP/2 when the server offers it.
// timeout bounds the whole exchange, headers included.
func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		MaxConnsPerHost:       8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	// ConfigureTransport only fails when the transport was already set up for h2.
	_ = http2.ConfigureTransport(transport)
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: DefaultUserAgent}
}

// Do stamps default headers onto req and sends it with ctx.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.HTTP.Do(c.prepare(req.WithContext(ctx)))
}

// Doer adapts c to the single-method Do(*http.Request) shape API clients accept.
func (c *Client) Doer() interface {
	Do(*http.Request) (*http.Response, error)
} {
	return doer{c}
}

type doer struct{ c *Client }

func (d doer) Do(req *http.Request) (*http.Response, error) {
	return d.c.HTTP.Do(d.c.prepare(req))
}

func (c *Client) prepare(req *http.Request) *http.Request {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return req
}
