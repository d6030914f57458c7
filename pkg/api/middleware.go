// Copyright 2024-2026 Aiku AI

package api

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
)

// requestLogger attaches a request-scoped logger with a request ID and logs
// one access line per request.
func requestLogger(log zerolog.Logger) exhttp.Middleware {
	return func(next http.Handler) http.Handler {
		access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = hlog.FromRequest(r).Error()
			case status >= 400:
				evt = hlog.FromRequest(r).Warn()
			default:
				evt = hlog.FromRequest(r).Debug()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", status).
				Int("response_length", size).
				Int64("request_time_ms", duration.Milliseconds()).
				Msg("Access")
		})
		return hlog.NewHandler(log)(
			hlog.RequestIDHandler("req_id", "X-Request-Id")(
				hlog.RemoteAddrHandler("remote_addr")(access(next)),
			),
		)
	}
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				hlog.FromRequest(r).Error().
					Any("panic", rvr).
					Bytes(zerolog.ErrorStackFieldName, debug.Stack()).
					Msg("Panic in HTTP handler")
				writeError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey checks X-API-Key when a key is configured. Health and
// metrics stay open for health checks and scrapers.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" || r.URL.Path == "/api/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Key)) != 1 {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireReady(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.sess.Ready() {
			writeNotReady(w, s.sess.Status().State)
			return
		}
		next(w, r)
	})
}
