package middleware

import (
	"net/http"
	"strings"

	"cropscan/internal/auth"
)

// protectedPrefixes need a valid admin token when auth is enabled.
var protectedPrefixes = []string{"/api/", "/logs/"}

// AuthMiddleware checks the bearer token or session cookie on protected paths.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.Enabled() || r.Method == http.MethodOptions || !protected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := tokenFromRequest(r)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if _, err := authenticator.Verify(token); err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func protected(path string) bool {
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		return cookie.Value
	}
	// Browsers cannot set headers on websocket upgrades.
	if r.URL.Path == "/api/live" {
		return r.URL.Query().Get("token")
	}
	return ""
}
