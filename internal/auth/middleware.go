package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

type contextKey int

const (
	ctxUser contextKey = iota
	ctxRemoteIP
)

// RequestUser returns the authenticated username from the context, or "".
func RequestUser(ctx context.Context) string {
	v, _ := ctx.Value(ctxUser).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

const wwwAuthenticate = `Basic realm="sheet-sync", charset="UTF-8"`

// Middleware returns HTTP middleware that requires Basic credentials
// matching users. With no users configured it passes every request
// through. IPs with too many recent failures get 429 without a password
// check.
func Middleware(users Users, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := newFailureLimiter()

	return func(next http.Handler) http.Handler {
		if len(users) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if limiter.blocked(ip) {
				logger.Warn("auth: rate limited", slog.String("ip", ip))
				http.Error(w, "too many failed attempts", http.StatusTooManyRequests)

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				logger.Debug("auth: no credentials",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthenticate)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if !users.Verify(username, password) {
				logger.Warn("auth: invalid credentials",
					slog.String("username", username),
					slog.String("ip", ip),
				)
				limiter.record(ip)
				w.Header().Set("WWW-Authenticate", wwwAuthenticate)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUser, username)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
