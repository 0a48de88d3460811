package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scrypster/mnemo/internal/config"
)

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_DevelopmentModeAllowsUnauthenticated(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "development"

	handler := requireAuth(noopHandler(), cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 in development mode, got %d", rec.Code)
	}
}

func TestRequireAuth_ProductionModeRejectsMissingToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "production"
	cfg.Security.APIToken = "secret"

	handler := requireAuth(noopHandler(), cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_ProductionModeAcceptsValidBearerToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "production"
	cfg.Security.APIToken = "secret"

	handler := requireAuth(noopHandler(), cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
}

func TestRequireAuth_HealthAlwaysExempt(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "production"
	cfg.Security.APIToken = "secret"

	handler := requireAuth(noopHandler(), cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /api/health to bypass auth, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_RejectsOverBurst(t *testing.T) {
	rl := newRateLimiter(1, 1)
	handler := rateLimitMiddleware(noopHandler(), rl)

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate-limited, got %d", rec2.Code)
	}
}

func TestRequestIDMiddleware_GeneratesIDWhenAbsent(t *testing.T) {
	handler := requestIDMiddleware(noopHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID header")
	}
}

func TestRequestIDMiddleware_EchoesProvidedID(t *testing.T) {
	handler := requestIDMiddleware(noopHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-id" {
		t.Fatalf("expected request ID to be echoed back, got %q", got)
	}
}

func TestSecurityHeadersMiddleware_SetsExpectedHeaders(t *testing.T) {
	handler := securityHeadersMiddleware(noopHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected X-Frame-Options: DENY, got %q", rec.Header().Get("X-Frame-Options"))
	}
}

func TestCorsMiddleware_HandlesPreflight(t *testing.T) {
	handler := corsMiddleware("*")(noopHandler())
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for an OPTIONS preflight, got %d", rec.Code)
	}
}
