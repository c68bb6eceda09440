package server

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"mitmproxy/internal/ca"
	"mitmproxy/internal/certcache"
	"mitmproxy/internal/eventlog"
	"mitmproxy/internal/httpmsg"
	"mitmproxy/internal/inspect"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

func testCerts(t *testing.T) *certcache.Cache {
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
	return certcache.New(root, 0, metrics.New())
}

func newTestServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	log := logger.New("SERVER", "error")
	handler := inspect.NewLogHandler(eventlog.New(16, "", log))

	srv, err := Listen(Config{
		BindAddress:      "127.0.0.1",
		ListenPort:       0,
		MaxHeaderBytes:   8192,
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		IdleTimeout:      2 * time.Second,
		ShutdownTimeout:  2 * time.Second,
		Certs:            testCerts(t),
		Handler:          handler,
		Metrics:          metrics.New(),
		Log:              log,
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	return srv, cancel
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("FOO / HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	resp, err := httpmsg.ReadResponse(bufio.NewReader(conn), 8192, false)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != 501 {
		t.Fatalf("StatusCode = %d, want 501", resp.StatusCode)
	}
}

func TestServerGracefulShutdownStopsAccepting(t *testing.T) {
	srv, cancel := newTestServer(t)
	addr := srv.Addr().String()
	cancel()

	time.Sleep(100 * time.Millisecond)

	if _, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		t.Fatal("expected connection refused after shutdown")
	}
}
