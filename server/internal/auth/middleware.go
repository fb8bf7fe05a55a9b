package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIKey returns HTTP middleware that enforces API key authentication on
// every request it wraps.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed (pass-through).
//   - Otherwise the middleware reads header from the request and compares it
//     to key in constant time.
//   - A missing, empty, or incorrect key is answered 401 with a JSON error body.
func APIKey(mode, header, key string) func(http.Handler) http.Handler {
	ok := Check(mode, header, key)
	return func(next http.Handler) http.Handler {
		// Non-apikey modes or unconfigured key → allow everything.
		if mode != "apikey" || key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ok(r) {
				slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid api key"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Check returns a predicate reporting whether a request carries the key in
// header. Outside apikey mode, or with no key configured, every request
// passes. Handlers that serve both readers and writers, such as the
// subscriber stream, use it to gate writes only.
func Check(mode, header, key string) func(*http.Request) bool {
	if mode != "apikey" || key == "" {
		return func(*http.Request) bool { return true }
	}
	want := []byte(key)
	return func(r *http.Request) bool {
		got := r.Header.Get(header)
		return got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1
	}
}
