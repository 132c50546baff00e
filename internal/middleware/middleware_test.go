package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/internal/dispatch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noContentNext() dispatch.Next {
	return func() (*dispatch.Response, error) {
		return dispatch.NoContent(), nil
	}
}

func TestRequestIDEchoesClientHeader(t *testing.T) {
	mw := RequestID()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-Request-ID", "client-supplied")

	resp, err := mw(r, noContentNext())
	require.NoError(t, err)
	assert.Equal(t, "client-supplied", resp.Header.Get("X-Request-ID"))
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	mw := RequestID()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	resp, err := mw(r, noContentNext())
	require.NoError(t, err)

	id := resp.Header.Get("X-Request-ID")
	require.NotEmpty(t, id)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)

	// Downstream entries see the generated ID on the request.
	assert.Equal(t, id, r.Header.Get("X-Request-ID"))
}

func TestRequestIDToleratesHeaderlessResponse(t *testing.T) {
	mw := RequestID()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-Request-ID", "client-supplied")

	resp, err := mw(r, func() (*dispatch.Response, error) {
		return &dispatch.Response{Status: http.StatusOK}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "client-supplied", resp.Header.Get("X-Request-ID"))
}

func TestRequestLoggerLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mw := RequestLogger(logger)
	r := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	r.Header.Set("X-Request-ID", "req-1")

	_, err := mw(r, func() (*dispatch.Response, error) {
		return dispatch.Text(http.StatusOK, "ok"), nil
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "request started")
	assert.Contains(t, out, "request completed")
	assert.Contains(t, out, `"path":"/widgets"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"request_id":"req-1"`)
}

func TestRequestLoggerLogsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mw := RequestLogger(logger)
	r := httptest.NewRequest(http.MethodGet, "/widgets", nil)

	wantErr := errors.New("downstream broke")
	_, err := mw(r, func() (*dispatch.Response, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Contains(t, buf.String(), "request errored")
	assert.Contains(t, buf.String(), "downstream broke")
}

func TestRateLimitRejectsAboveBurst(t *testing.T) {
	mw := RateLimit(1, 2, discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	for i := 0; i < 2; i++ {
		resp, err := mw(r, noContentNext())
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.Status)
	}

	resp, err := mw(r, noContentNext())
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too Many Requests"}`, string(resp.Body))
}

func TestRateLimitDoesNotInvokeDownstreamWhenLimited(t *testing.T) {
	mw := RateLimit(1, 1, discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	calls := 0
	next := func() (*dispatch.Response, error) {
		calls++
		return dispatch.NoContent(), nil
	}

	_, err := mw(r, next)
	require.NoError(t, err)
	_, err = mw(r, next)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
