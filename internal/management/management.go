// Package management provides a lightweight HTTP API for runtime
// inspection of the running proxy.
//
// Endpoints:
//
//	GET /status   - proxy health and uptime
//	GET /metrics  - metrics snapshot
//	GET /ca       - the root CA certificate, PEM-encoded
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mitmproxy/internal/ca"
	"mitmproxy/internal/certcache"
	"mitmproxy/internal/config"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	ca        *ca.CA
	certs     *certcache.Cache
	token     string // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// New creates a management server.
func New(cfg *config.Config, root *ca.CA, certs *certcache.Cache, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		ca:        root,
		certs:     certs,
		token:     cfg.ManagementToken,
		metrics:   m,
		log:       log,
	}
	if s.token != "" {
		log.Info("management_auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ca", s.handleCA)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("management_auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		ListenPort    int    `json:"listenPort"`
		CASubject     string `json:"caSubject"`
		CertCacheSize int    `json:"certCacheSize"`
	}

	resp := response{
		Status:        "running",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		ListenPort:    s.cfg.ListenPort,
		CASubject:     s.ca.Cert.Subject.String(),
		CertCacheSize: s.certs.Len(),
	}
	writeJSON(w, s.log, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, s.metrics.Snapshot())
}

// handleCA serves the root CA certificate so clients can import it into
// their trust store.
func (s *Server) handleCA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="mitmproxy-ca.pem"`)
	w.Write(s.ca.ExportPEM())
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("management_encode", "JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	s.log.Infof("management_listen", "listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
