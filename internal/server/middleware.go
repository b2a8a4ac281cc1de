package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type contextKey struct{ name string }

var userContextKey = contextKey{"user_id"}

// UserID returns the authenticated first-party user id placed in the request
// context by [Authenticate].
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userContextKey).(string)
	return id, ok && id != ""
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// RequestLogger returns [Middleware] that logs each request with method,
// path, status, and duration.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

// Authenticate returns [Middleware] validating the first-party bearer token
// (HS256 JWT) and storing its subject claim as the request's user id.
//
// The callback and service-to-service routes are registered without it; the
// callback is a cross-site redirect carrying no bearer credential.
func Authenticate(secret []byte) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) {
				writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(header, prefix), func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Throttle returns [Middleware] applying a per-client token bucket. Clients
// are keyed by remote IP; exceeding the limit yields 429.
func Throttle(rps float64, burst int) Middleware {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}

	var mu sync.Mutex
	limiters := map[string]*rate.Limiter{}

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, ok := limiters[key]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = limiter
		}
		return limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !limiterFor(host).Allow() {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
