package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"cropscan/internal/auth"
	"cropscan/internal/config"
	"cropscan/internal/logger"
)

func newAuthenticator(t *testing.T, password string) *auth.Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a, err := auth.NewAuthenticator(&config.Config{JWTSecret: "secret", AdminPasswordHash: string(hash), TokenTTLMinutes: 5})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestLoginHandler(t *testing.T) {
	a := newAuthenticator(t, "letmein")
	h := LoginHandler(a, logger.NewConsole(io.Discard))

	t.Run("form", func(t *testing.T) {
		form := url.Values{"password": {"letmein"}}
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if _, err := a.Verify(resp["token"]); err != nil {
			t.Errorf("Issued token does not verify: %v", err)
		}

		cookies := rr.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Name != auth.CookieName || !cookies[0].HttpOnly {
			t.Fatalf("Expected HttpOnly token cookie, got %+v", cookies)
		}
		if cookies[0].MaxAge != 300 {
			t.Errorf("Expected cookie Max-Age of the 5 minute token TTL, got %d", cookies[0].MaxAge)
		}
	})

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"letmein"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rr.Code)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"guess"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rr.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rr.Code)
		}
	})
}

func TestLogsHandlers(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewLogger(&config.Config{LogDirectory: dir})
	defer log.Close()

	log.Info("hello from the test")

	rr := httptest.NewRecorder()
	ShowLogsHandler(log, logger.InfoFile).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "hello from the test") {
		t.Errorf("Expected log content, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	ClearLogsHandler(log, logger.WarningFile).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rr.Code)
	}
	info, err := os.Stat(filepath.Join(dir, logger.WarningFile))
	if err != nil || info.Size() != 0 {
		t.Errorf("Expected empty warning log, got %v %v", info, err)
	}

	rr = httptest.NewRecorder()
	ShowLogsHandler(logger.NewConsole(io.Discard), logger.InfoFile).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for console logger, got %d", rr.Code)
	}
}
