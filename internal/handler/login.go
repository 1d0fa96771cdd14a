package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cropscan/internal/auth"
	"cropscan/internal/logger"
)

type loginRequest struct {
	Password string `json:"password"`
}

// LoginHandler handles POST /auth/login: checks the admin password and issues a token
// in the response body and an HttpOnly cookie.
func LoginHandler(authenticator *auth.Authenticator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authenticator.Enabled() {
			writeError(w, http.StatusNotFound, "Authentication is disabled", logger)
			return
		}

		var password string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req loginRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid JSON body", logger)
				return
			}
			password = req.Password
		} else {
			password = r.FormValue("password")
		}

		token, expires, err := authenticator.Login(password)
		if errors.Is(err, auth.ErrInvalidPassword) {
			logger.Warning("Failed login from %s", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "Invalid password", logger)
			return
		}
		if err != nil {
			logger.Error("Error issuing token: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error", logger)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    token,
			Path:     "/",
			Expires:  expires,
			MaxAge:   int(authenticator.TTL().Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "expires_at": expires.UTC()}, logger)
	}
}

// LogoutHandler clears the session cookie.
func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
