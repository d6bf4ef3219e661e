package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const operatorKey contextKey = iota

const authRealm = `Basic realm="ovpnadmin", charset="UTF-8"`

// BasicAuth admits requests carrying the operator credential. Failed
// attempts count towards the per-IP lockout; a request without any
// credential only gets the challenge.
func (a *API) BasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.extractClientIP(r)

		if blocked, retry := a.globalLimiter.check(); blocked {
			a.audit.logFailure(AuditAuthRateLimited, r, "global lockout")
			writeRateLimited(w, retry)
			return
		}
		if blocked, retry := a.authLimiter.check(ip); blocked {
			a.audit.logFailure(AuditAuthRateLimited, r, "ip lockout", slog.String("client_ip", ip))
			writeRateLimited(w, retry)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", authRealm)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if a.operator == nil || !a.operator.Verify(user, pass) {
			a.authLimiter.recordFailure(ip)
			a.globalLimiter.recordFailure()
			a.audit.logFailure(AuditAuthFailure, r, "invalid credentials", slog.String("client_ip", ip))
			w.Header().Set("WWW-Authenticate", authRealm)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		a.authLimiter.recordSuccess(ip)

		ctx := context.WithValue(r.Context(), operatorKey, a.operator.User())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit caps the number of requests a single client IP may make per
// window.
func (a *API) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.requestLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if ok, retry := a.requestLimiter.allow(a.extractClientIP(r)); !ok {
			w.Header().Set("Retry-After", retryAfterString(retry))
			writeError(w, http.StatusTooManyRequests, "too many requests; try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func operatorFromContext(ctx context.Context) string {
	user, _ := ctx.Value(operatorKey).(string)
	return user
}
