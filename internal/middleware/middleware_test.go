package middleware

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hijackableRecorder is a ResponseRecorder that also supports hijacking,
// like the real server connection the websocket upgrade needs.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, client := net.Pipe()
	client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestLoggingMiddlewarePreservesHijack(t *testing.T) {
	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/stream", nil))

	assert.True(t, rec.hijacked)
}

func TestMetricsMiddlewarePreservesHijack(t *testing.T) {
	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}

	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/stream", nil))

	assert.True(t, rec.hijacked)
}

func TestHijackWithoutSupportErrors(t *testing.T) {
	// httptest.ResponseRecorder is not a Hijacker.
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := w.(http.Hijacker).Hijack()
		assert.Error(t, err)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

type staticValidator struct {
	owner string
	err   error
}

func (s staticValidator) ValidateAccess(context.Context, string) (string, error) {
	return s.owner, s.err
}

func TestBearerAuthStoresOwner(t *testing.T) {
	var got string
	h := BearerAuth(staticValidator{owner: "user-1"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetOwnerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/scans", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got)
}

func TestBearerAuthRejectsMalformedOwnerID(t *testing.T) {
	called := false
	h := BearerAuth(staticValidator{owner: "no spaces allowed"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/scans", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}
