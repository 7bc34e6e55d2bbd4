package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderSessionID  = "X-Session-ID"
	HeaderAdminToken = "X-Admin-Token"
)

type ownerCtxKey struct{}

// OwnerMiddleware resolves the cart owner from X-User-ID or X-Session-ID.
// Exactly one of the two must be present.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := domain.CartOwner{
			UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
			SessionID: strings.TrimSpace(r.Header.Get(HeaderSessionID)),
		}
		if err := owner.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_owner",
				"exactly one of "+HeaderUserID+" or "+HeaderSessionID+" is required")
			return
		}

		ctx := context.WithValue(r.Context(), ownerCtxKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFromContext(ctx context.Context) (domain.CartOwner, bool) {
	owner, ok := ctx.Value(ownerCtxKey{}).(domain.CartOwner)
	return owner, ok
}

// AdminMiddleware guards the admin routes. An empty token disables them.
func AdminMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondError(w, http.StatusForbidden, "forbidden", "admin API is disabled")
				return
			}
			got := r.Header.Get(HeaderAdminToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// MetricsMiddleware records request count and latency labelled by the
// matched route pattern, so path parameters do not explode cardinality.
func MetricsMiddleware(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = r.Method + " " + pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}
