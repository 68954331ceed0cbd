package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestServer(apiKey string, public ...string) *echo.Echo {
	e := echo.New()
	e.Use(APIKeyMiddleware(apiKey, public...))
	ok := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	e.GET("/status", ok)
	e.GET("/health", ok)
	return e
}

func serve(e *echo.Echo, req *http.Request) int {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIKeyMiddleware_NoKeyConfigured(t *testing.T) {
	e := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	if code := serve(e, req); code != http.StatusOK {
		t.Errorf("expected 200 with no key configured, got %d", code)
	}
}

func TestAPIKeyMiddleware_ValidKey(t *testing.T) {
	e := newTestServer("secret-key")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(HeaderAPIKey, "secret-key")

	if code := serve(e, req); code != http.StatusOK {
		t.Errorf("expected 200 with valid key, got %d", code)
	}
}

func TestAPIKeyMiddleware_BearerToken(t *testing.T) {
	e := newTestServer("secret-key")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer secret-key")

	if code := serve(e, req); code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", code)
	}
}

func TestAPIKeyMiddleware_InvalidKey(t *testing.T) {
	e := newTestServer("secret-key")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(HeaderAPIKey, "wrong-key")

	if code := serve(e, req); code != http.StatusForbidden {
		t.Errorf("expected 403 with invalid key, got %d", code)
	}
}

func TestAPIKeyMiddleware_MissingKey(t *testing.T) {
	e := newTestServer("secret-key")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	if code := serve(e, req); code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing key, got %d", code)
	}
}

func TestAPIKeyMiddleware_QueryParam(t *testing.T) {
	e := newTestServer("secret-key")
	req := httptest.NewRequest(http.MethodGet, "/status?api_key=secret-key", nil)

	if code := serve(e, req); code != http.StatusOK {
		t.Errorf("expected 200 with key in query param, got %d", code)
	}
}

func TestAPIKeyMiddleware_PublicPath(t *testing.T) {
	e := newTestServer("secret-key", "/health")

	if code := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil)); code != http.StatusOK {
		t.Errorf("expected 200 on public path, got %d", code)
	}
	if code := serve(e, httptest.NewRequest(http.MethodGet, "/status", nil)); code != http.StatusUnauthorized {
		t.Errorf("expected 401 on guarded path, got %d", code)
	}
}
