package management

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"mitmproxy/internal/ca"
	"mitmproxy/internal/certcache"
	"mitmproxy/internal/config"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

func testCA(t *testing.T) *ca.CA {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := ca.Generate(certFile, keyFile); err != nil {
		t.Fatalf("ca.Generate: %v", err)
	}
	root, err := ca.Load(certFile, keyFile)
	if err != nil {
		t.Fatalf("ca.Load: %v", err)
	}
	return root
}

func testServer(t *testing.T, token string) *Server {
	t.Helper()
	cfg := &config.Config{ListenPort: 8080, ManagementToken: token}
	root := testCA(t)
	certs := certcache.New(root, 0, metrics.New())
	return New(cfg, root, certs, metrics.New(), logger.New("MGMT", "error"))
}

func TestHandleStatus(t *testing.T) {
	srv := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "running" {
		t.Fatalf("status field = %v, want running", body["status"])
	}
	if body["listenPort"].(float64) != 8080 {
		t.Fatalf("listenPort = %v, want 8080", body["listenPort"])
	}
	if body["certCacheSize"].(float64) != 0 {
		t.Fatalf("certCacheSize = %v, want 0", body["certCacheSize"])
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
}

func TestHandleCAServesPEM(t *testing.T) {
	srv := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/ca", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/x-pem-file" {
		t.Fatalf("Content-Type = %q", got)
	}
	if !strings.Contains(w.Body.String(), "BEGIN CERTIFICATE") {
		t.Fatalf("body does not contain a PEM certificate block: %s", w.Body.String())
	}
}

func TestHandleCARejectsNonGET(t *testing.T) {
	srv := testServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/ca", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want 405", w.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	srv := testServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401", w.Code)
	}
}

func TestAuthMiddlewareRejectsWrongToken(t *testing.T) {
	srv := testServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401", w.Code)
	}
}

func TestAuthMiddlewareAcceptsCorrectToken(t *testing.T) {
	srv := testServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
}

func TestAuthMiddlewareDisabledWhenNoTokenConfigured(t *testing.T) {
	srv := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
}
