package upapi_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/require"

	"upsnapshot/internal/log"
	"upsnapshot/internal/upapi"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_FailureKinds(t *testing.T) {
	t.Parallel()

	longBody := strings.Repeat("x", 500)

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		kind       error
		statusCode int
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"errors":[{"status":"401"}]}`, http.StatusUnauthorized)
			},
			kind:       upapi.ErrAuthenticationRejected,
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "forbidden is a remote error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusForbidden)
			},
			kind:       upapi.ErrRemote,
			statusCode: http.StatusForbidden,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(longBody))
			},
			kind:       upapi.ErrRemote,
			statusCode: http.StatusBadGateway,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data": [`))
			},
			kind: upapi.ErrDecode,
		},
		{
			name: "html instead of json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>maintenance</html>`))
			},
			kind: upapi.ErrDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newServer(t, tt.handler)
			client, err := upapi.NewClient("secret", upapi.WithBaseURL(srv.URL))
			require.NoError(t, err)

			_, err = client.FetchAccounts(t.Context())
			require.ErrorIs(t, err, tt.kind)

			var fe *upapi.FetchError
			require.True(t, errors.As(err, &fe))
			require.Equal(t, upapi.EndpointAccounts, fe.Endpoint)
			require.Equal(t, tt.statusCode, fe.StatusCode)
			require.LessOrEqual(t, len(fe.Body), 200)
		})
	}
}

func TestFetch_TimeoutIsTransportFailure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	client, err := upapi.NewClient("secret", upapi.WithBaseURL(srv.URL), upapi.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = client.FetchCategories(t.Context())
	require.ErrorIs(t, err, upapi.ErrTransport)
	require.Equal(t, "transport_failure", upapi.KindName(err))
}

func TestFetch_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := upapi.NewClient("secret", upapi.WithBaseURL(url))
	require.NoError(t, err)

	_, err = client.FetchTags(t.Context())
	require.ErrorIs(t, err, upapi.ErrTransport)
}

func TestFetch_UnexpectedShapeIsNotAFailure(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"unexpected": true}}`))
	})
	client, err := upapi.NewClient("secret", upapi.WithBaseURL(srv.URL))
	require.NoError(t, err)

	doc, err := client.FetchAccounts(t.Context())
	require.NoError(t, err)

	_, _, err = doc.Resources()
	require.ErrorIs(t, err, upapi.ErrNotCollection)
}

func TestKindName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", upapi.KindName(nil))
	require.Equal(t, "authentication_rejected", upapi.KindName(&upapi.FetchError{Kind: upapi.ErrAuthenticationRejected}))
	require.Equal(t, "remote_error", upapi.KindName(&upapi.FetchError{Kind: upapi.ErrRemote}))
	require.Equal(t, "decode_failure", upapi.KindName(&upapi.FetchError{Kind: upapi.ErrDecode}))
	require.Equal(t, "unknown", upapi.KindName(errors.New("boom")))
}

func TestPing_CancelledCallerDoesNotFailSharedRequest(t *testing.T) {
	t.Parallel()

	// Arrange: the ping blocks until released
	var hits atomic.Int32
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"meta":{"id":"shared","statusEmoji":"⚡️"}}`))
	})
	var once atomic.Bool
	releaseOnce := func() {
		if once.CompareAndSwap(false, true) {
			close(release)
		}
	}
	t.Cleanup(releaseOnce)

	client, err := upapi.NewClient("secret", upapi.WithBaseURL(srv.URL))
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.Ping(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	type result struct {
		res upapi.PingResult
		err error
	}
	second := make(chan result, 1)
	go func() {
		res, err := client.Ping(t.Context())
		second <- result{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	// Act: the first caller gives up, then the server answers
	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	releaseOnce()

	// Assert: the second caller still gets the shared answer
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "shared", got.res.ID)
	require.EqualValues(t, 1, hits.Load())
}

func TestFetch_LogsRemoteErrors(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	var buf bytes.Buffer
	logger := log.New(log.Config{Format: "json", Output: &buf})
	client, err := upapi.NewClient("secret", upapi.WithBaseURL(srv.URL), upapi.WithLogger(logger))
	require.NoError(t, err)

	// Act
	_, err = client.FetchAccounts(t.Context())

	// Assert
	require.ErrorIs(t, err, upapi.ErrRemote)
	out := buf.String()
	require.Contains(t, out, `"component":"upapi"`)
	require.Contains(t, out, `"endpoint":"/accounts"`)
	require.Contains(t, out, `"status_code":502`)
	require.NotContains(t, out, "secret")
}
