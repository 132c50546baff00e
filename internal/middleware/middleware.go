// Package middleware provides optional, application-level pipeline
// entries built on the dispatch middleware signature: request
// identification, structured request logging, and rate limiting.
// None of them are part of the server's entry algorithm; applications
// register the ones they want with Server.Use.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hermes/internal/dispatch"
)

// requestIDHeader is echoed back to clients and attached to log lines.
const requestIDHeader = "X-Request-ID"

// RequestID propagates the client's X-Request-ID onto the response,
// generating a UUID when the request carries none. This should be the
// first entry in the chain so downstream logging can pick the ID up
// from the request header.
func RequestID() dispatch.Middleware {
	return func(r *http.Request, next dispatch.Next) (*dispatch.Response, error) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set(requestIDHeader, requestID)
		}

		resp, err := next()
		if resp != nil {
			if resp.Header == nil {
				resp.Header = make(http.Header)
			}
			resp.Header.Set(requestIDHeader, requestID)
		}
		return resp, err
	}
}

// RequestLogger logs request start and completion with method, path,
// status and duration. Errors pass through untouched; the server's
// boundary owns converting them to responses.
func RequestLogger(logger *slog.Logger) dispatch.Middleware {
	return func(r *http.Request, next dispatch.Next) (*dispatch.Response, error) {
		start := time.Now()
		ctx := r.Context()

		reqLogger := logger
		if requestID := r.Header.Get(requestIDHeader); requestID != "" {
			reqLogger = logger.With(slog.String("request_id", requestID))
		}

		reqLogger.InfoContext(ctx, "request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		resp, err := next()

		status := 0
		if resp != nil {
			status = resp.Status
		}
		if err != nil {
			reqLogger.ErrorContext(ctx, "request errored",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
				slog.String("duration", time.Since(start).String()))
		} else {
			reqLogger.InfoContext(ctx, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.String("duration", time.Since(start).String()))
		}
		return resp, err
	}
}

// RateLimit rejects requests above the configured rate with a 429.
// One shared token bucket guards the whole pipeline, matching a
// single-tenant embedded deployment.
func RateLimit(rps float64, burst int, logger *slog.Logger) dispatch.Middleware {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(r *http.Request, next dispatch.Next) (*dispatch.Response, error) {
		if !limiter.Allow() {
			logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))
			resp := dispatch.ErrorJSON(http.StatusTooManyRequests, "Too Many Requests")
			resp.Header.Set("Retry-After", "60")
			return resp, nil
		}
		return next()
	}
}
