package upapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"upsnapshot/internal/log"
)

const (
	baseURL = "https://api.up.com.au/api/v1"

	// DefaultTimeout bounds each request unless WithTimeout says otherwise.
	DefaultTimeout = 30 * time.Second
)

// ErrMissingToken is returned by NewClient when no credential is supplied.
var ErrMissingToken = errors.New("upapi: missing token")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=upapi_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a read-only client for the Up banking API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header is sent with every request; it carries the bearer credential.
	header http.Header
	// timeout bounds each request. Zero leaves it to the caller's context.
	timeout time.Duration
	logger  *log.Logger

	// coalesces concurrent token checks
	pings singleflight.Group
}

// ClientOption is a configuration option for the Up API client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			if http.CanonicalHeaderKey(key) == "Authorization" {
				continue
			}
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithTimeout bounds every request. Running out of time is reported as a
// transport failure.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger for request outcomes. The credential is never logged.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.WithComponent(log.ComponentUpAPI)
		}
	}
}

// NewClient creates a new Up API client authenticated with token.
func NewClient(token string, options ...ClientOption) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		timeout:    DefaultTimeout,
		logger:     log.Discard(),
	}
	client.header.Set("Accept", "application/json")
	for _, option := range options {
		option(client)
	}
	// https://developer.up.com.au/#authentication
	client.header.Set("Authorization", "Bearer "+token)
	return client, nil
}
