package upapi

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error returned by a fetch wraps exactly one of them.
var (
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrRemote                 = errors.New("remote error")
	ErrTransport              = errors.New("transport failure")
	ErrDecode                 = errors.New("decode failure")
)

// ErrInvalidPageSize is returned without touching the network.
var ErrInvalidPageSize = errors.New("upapi: page size must be positive")

const maxErrorBody = 200

// FetchError describes a failed request to one endpoint.
type FetchError struct {
	Kind       error
	Endpoint   string
	StatusCode int
	Body       string // truncated response body, remote errors only
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "up %s: %v", e.Endpoint, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a stable label for the failure kind of err, suitable for
// logs and status output. Unknown errors map to "unknown".
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationRejected):
		return "authentication_rejected"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	case errors.Is(err, ErrTransport):
		return "transport_failure"
	case errors.Is(err, ErrDecode):
		return "decode_failure"
	default:
		return "unknown"
	}
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return strings.ToValidUTF8(s, "")
}
