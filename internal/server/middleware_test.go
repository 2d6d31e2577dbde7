package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aptiscout/aptiscout/internal/common"
)

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenExpiry = "1h"
	return cfg
}

func TestCorrelationIDMiddleware_GeneratesWhenAbsent(t *testing.T) {
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/scraping/sources", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected X-Correlation-ID to be generated")
	}
}

func TestCorrelationIDMiddleware_EchoesIncoming(t *testing.T) {
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/scraping/sources", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-ID"); got != "fixed-id" {
		t.Errorf("expected echoed correlation id, got %q", got)
	}
}

func TestRequiresAdminAuth(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/api/scraping/sources", false},
		{http.MethodGet, "/api/scraping/sources/staticsrc", false},
		{http.MethodPost, "/api/scraping/sources", true},
		{http.MethodPut, "/api/scraping/sources/staticsrc", true},
		{http.MethodDelete, "/api/scraping/sources/staticsrc", true},
		{http.MethodPost, "/api/scraping/jobs", false},
	}
	for _, c := range cases {
		if got := requiresAdminAuth(c.method, c.path); got != c.want {
			t.Errorf("requiresAdminAuth(%s, %s) = %v, want %v", c.method, c.path, got, c.want)
		}
	}
}

func TestAdminAuthMiddleware_RejectsMissingToken(t *testing.T) {
	cfg := testConfig()
	handler := adminAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/scraping/sources", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAdminAuthMiddleware_AcceptsValidToken(t *testing.T) {
	cfg := testConfig()
	token, err := signAdminJWT("admin-1", cfg)
	if err != nil {
		t.Fatalf("signAdminJWT: %v", err)
	}

	var gotSubject string
	handler := adminAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = AdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/scraping/sources", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if gotSubject != "admin-1" {
		t.Errorf("expected subject admin-1, got %q", gotSubject)
	}
}

func TestAdminAuthMiddleware_PassesThroughNonAdminPaths(t *testing.T) {
	cfg := testConfig()
	handler := adminAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/scraping/jobs", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 (no admin auth required), got %d", rr.Code)
	}
}

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	logger := common.NewSilentLogger()
	handler := recoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/scraping/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}
