package upapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"upsnapshot/internal/log"
)

// Endpoint paths, relative to the base URL.
const (
	EndpointAccounts     = "/accounts"
	EndpointTransactions = "/transactions"
	EndpointCategories   = "/categories"
	EndpointTags         = "/tags"
	EndpointPing         = "/util/ping"
)

// responses larger than this are cut off and then fail to decode
const maxResponseBody = 8 << 20

// FetchAccounts retrieves the first page of accounts.
func (c *Client) FetchAccounts(ctx context.Context) (Document, error) {
	return c.getDocument(ctx, EndpointAccounts, nil)
}

// FetchTransactions retrieves the most recent page of transactions, newest
// first. Only one page is requested.
func (c *Client) FetchTransactions(ctx context.Context, pageSize int) (Document, error) {
	if pageSize <= 0 {
		return Document{}, fmt.Errorf("%w: got %d", ErrInvalidPageSize, pageSize)
	}
	query := url.Values{}
	query.Set("page[size]", strconv.Itoa(pageSize))
	return c.getDocument(ctx, EndpointTransactions, query)
}

// FetchCategories retrieves the category tree.
func (c *Client) FetchCategories(ctx context.Context) (Document, error) {
	return c.getDocument(ctx, EndpointCategories, nil)
}

// FetchTags retrieves the first page of tags.
func (c *Client) FetchTags(ctx context.Context) (Document, error) {
	return c.getDocument(ctx, EndpointTags, nil)
}

// PingResult is the body of /util/ping.
type PingResult struct {
	ID          string `json:"id"`
	StatusEmoji string `json:"statusEmoji"`
}

// Ping checks that the credential is accepted. Concurrent callers share one
// request; it is not cancelled when one of them gives up, and each caller
// still returns as soon as its own ctx is done.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.pings.DoChan(EndpointPing, func() (any, error) {
		reqCtx := shared
		if c.timeout <= 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(shared, DefaultTimeout)
			defer cancel()
		}
		body, err := c.get(reqCtx, EndpointPing, nil)
		if err != nil {
			return PingResult{}, err
		}
		var res struct {
			Meta PingResult `json:"meta"`
		}
		if err := json.Unmarshal(body, &res); err != nil {
			return PingResult{}, &FetchError{Kind: ErrDecode, Endpoint: EndpointPing, Err: err}
		}
		return res.Meta, nil
	})
	select {
	case <-ctx.Done():
		return PingResult{}, &FetchError{Kind: ErrTransport, Endpoint: EndpointPing, Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			return PingResult{}, r.Err
		}
		return r.Val.(PingResult), nil
	}
}

func (c *Client) getDocument(ctx context.Context, endpoint string, query url.Values) (Document, error) {
	body, err := c.get(ctx, endpoint, query)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Document{}, &FetchError{Kind: ErrDecode, Endpoint: endpoint, Err: err}
	}
	return doc, nil
}

// get performs one authenticated GET and returns the raw body of a 2xx
// response. Status checks happen before any decoding.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header = c.header.Clone()

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "request failed", log.FieldEndpoint, endpoint, log.FieldError, err)
		return nil, &FetchError{Kind: ErrTransport, Endpoint: endpoint, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Endpoint: endpoint, StatusCode: res.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		c.logger.WarnContext(ctx, "credential rejected", log.FieldEndpoint, endpoint, log.FieldStatusCode, res.StatusCode)
		return nil, &FetchError{Kind: ErrAuthenticationRejected, Endpoint: endpoint, StatusCode: res.StatusCode}
	case res.StatusCode < 200 || res.StatusCode >= 300:
		c.logger.WarnContext(ctx, "remote error", log.FieldEndpoint, endpoint, log.FieldStatusCode, res.StatusCode)
		return nil, &FetchError{Kind: ErrRemote, Endpoint: endpoint, StatusCode: res.StatusCode, Body: truncateBody(body)}
	}
	c.logger.DebugContext(ctx, "request ok",
		log.FieldEndpoint, endpoint,
		log.FieldStatusCode, res.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds(),
	)
	return body, nil
}
