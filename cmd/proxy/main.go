// Command proxy is an intercepting HTTP/HTTPS MITM proxy.
//
// It terminates client TLS connections with certificates minted on the fly
// from a local root CA, decodes the HTTP/1.1 traffic inside, runs it through
// an inspection handler, and relays it to the real origin. Plain HTTP
// requests (no CONNECT) are forwarded directly.
//
// Clients must be configured to use this process as their proxy and must
// trust the root CA — fetch it from the management API's /ca endpoint and
// import it into the client's trust store.
//
// Usage:
//
//	./proxy
//
//	# Custom ports
//	LISTEN_PORT=8443 MANAGEMENT_PORT=8444 ./proxy
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mitmproxy/internal/ca"
	"mitmproxy/internal/certcache"
	"mitmproxy/internal/config"
	"mitmproxy/internal/eventlog"
	"mitmproxy/internal/inspect"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/management"
	"mitmproxy/internal/metrics"
	"mitmproxy/internal/server"
)

func main() {
	cfg := config.Load()
	lg := logger.New("PROXY", cfg.LogLevel)

	printBanner(cfg)

	root, err := ca.LoadOrGenerate(cfg.CACertFile, cfg.CAKeyFile, lg)
	if err != nil {
		lg.Fatalf("ca_init", "could not load or generate root CA: %v", err)
	}

	m := metrics.New()
	certs := certcache.New(root, cfg.CertCacheMaxHosts, m)
	events := eventlog.New(cfg.EventChannelCapacity, cfg.EventHistoryFile, lg)
	defer func() {
		if err := events.Close(); err != nil {
			lg.Errorf("eventlog_close", "close: %v", err)
		}
	}()

	handler := inspect.NewLogHandler(events)

	srv, err := server.Listen(server.Config{
		BindAddress:      cfg.BindAddress,
		ListenPort:       cfg.ListenPort,
		MaxHeaderBytes:   cfg.MaxHeaderBytes,
		ConnectTimeout:   cfg.ConnectTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		Certs:            certs,
		Handler:          handler,
		Metrics:          m,
		Log:              lg,
	})
	if err != nil {
		lg.Fatalf("server_listen", "could not bind %s:%d: %v", cfg.BindAddress, cfg.ListenPort, err)
	}

	mgmt := management.New(cfg, root, certs, m, logger.New("MGMT", cfg.LogLevel))
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			lg.Fatalf("management_listen", "fatal: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		lg.Info("server_shutdown", "shutting down…")
		cancel()
	}()

	lg.Infof("server_listen", "listening on %s", srv.Addr().String())
	if err := srv.Serve(ctx); err != nil {
		lg.Errorf("server_serve", "serve: %v", err)
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║           MITM Intercepting Proxy  (Go)               ║
╚══════════════════════════════════════════════════════╝
  Listen address   : %s:%d
  Management port  : %d
  Root CA cert     : %s

  Point clients here:
    export HTTP_PROXY=http://%s:%d
    export HTTPS_PROXY=http://%s:%d

  Trust the root CA:
    curl http://127.0.0.1:%d/ca -o mitmproxy-ca.pem

  Check status:
    curl http://127.0.0.1:%d/status
`, cfg.BindAddress, cfg.ListenPort, cfg.ManagementPort, cfg.CACertFile,
		cfg.BindAddress, cfg.ListenPort, cfg.BindAddress, cfg.ListenPort,
		cfg.ManagementPort, cfg.ManagementPort)
}
