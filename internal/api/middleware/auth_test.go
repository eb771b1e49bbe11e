package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func newTestAuth(key string) *APIKeyAuth {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAPIKeyAuth(key, log)
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	auth := newTestAuth("secret-key")
	handler := auth.Middleware()(testHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("хотели 200, получили %d", rec.Code)
	}
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	auth := newTestAuth("secret-key")
	handler := auth.Middleware()(testHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("хотели 401, получили %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("хотели application/json, получили %q", ct)
	}
}

func TestAPIKeyAuth_WrongKey(t *testing.T) {
	auth := newTestAuth("secret-key")
	handler := auth.Middleware()(testHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("хотели 401, получили %d", rec.Code)
	}
}

func TestAPIKeyAuth_EmptyKeyDisablesCheck(t *testing.T) {
	auth := newTestAuth("")
	handler := auth.Middleware()(testHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("без ключа в конфигурации проверка отключена: хотели 200, получили %d", rec.Code)
	}
}
