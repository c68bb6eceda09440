// Package server implements the C9 accept loop: bind a raw listener,
// hand each connection to a per-connection task, and shut down gracefully
// on signal.
package server

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"mitmproxy/internal/certcache"
	"mitmproxy/internal/dispatch"
	"mitmproxy/internal/forward"
	"mitmproxy/internal/httpmsg"
	"mitmproxy/internal/inspect"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
	"mitmproxy/internal/tunnel"
)

// Config bundles the dependencies and tunables the accept loop needs.
type Config struct {
	BindAddress    string
	ListenPort     int
	MaxHeaderBytes int

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration

	Certs   *certcache.Cache
	Handler inspect.Handler
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// Server runs the accept loop over one listener, raw rather than
// net/http-based, because C6's tunnel needs the hijacked socket directly.
type Server struct {
	cfg Config
	ln  net.Listener
	wg  sync.WaitGroup
}

// Listen binds the configured address and port. Call Serve to start
// accepting.
func Listen(cfg Config) (*Server, error) {
	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, ln: ln}, nil
}

// Addr returns the bound address, useful when ListenPort is 0 in tests.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is cancelled, then closes the
// listener and waits up to cfg.ShutdownTimeout for in-flight connections
// to finish. Connections still open after that are not closed by Serve;
// it logs and returns nil, leaving them running.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.cfg.Log.Infof("server_shutdown", "shutdown signalled, closing listener")
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return s.waitOrForceClose()
			default:
				s.cfg.Log.Warnf("server_accept", "accept: %v", err)
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) waitOrForceClose() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.cfg.Log.Warnf("server_shutdown", "shutdown timeout %s reached, in-flight connections abandoned", s.cfg.ShutdownTimeout)
		return nil
	}
}

// handleConn recovers from per-connection panics so one misbehaving
// connection never takes down the accept loop (§7 "server loop recovers
// from per-connection task panics").
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Log.Errorf("server_panic", "recovered from panic in connection handler: %v", r)
			conn.Close()
		}
	}()

	s.cfg.Metrics.ConnectionsTotal.Add(1)

	br := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	decision, err := dispatch.Classify(br, s.cfg.MaxHeaderBytes, s.cfg.Log, s.cfg.Metrics)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.reject(conn, err)
		return
	}

	switch decision.Kind {
	case dispatch.KindConnect:
		s.cfg.Metrics.TunnelsTotal.Add(1)
		s.cfg.Metrics.TunnelsMITM.Add(1)
		tunnel.Handle(conn, decision.Target, s.cfg.Certs, s.cfg.Handler, s.cfg.MaxHeaderBytes, tunnel.Timeouts{
			ConnectTimeout:   s.cfg.ConnectTimeout,
			HandshakeTimeout: s.cfg.HandshakeTimeout,
			IdleTimeout:      s.cfg.IdleTimeout,
		}, s.cfg.Log, s.cfg.Metrics)

	case dispatch.KindForward:
		forward.Handle(conn, br, decision.Request, conn.RemoteAddr().String(), s.cfg.MaxHeaderBytes, s.cfg.ConnectTimeout, s.cfg.IdleTimeout, s.cfg.Log, s.cfg.Metrics)

	default:
		conn.Close()
	}
}

func (s *Server) reject(conn net.Conn, err error) {
	defer conn.Close()
	status := 400
	if err == dispatch.ErrUnknownMethod {
		status = 501
	}
	resp := &httpmsg.Response{Version: "HTTP/1.1", StatusCode: status}
	resp.Header.Set("Content-Type", "text/plain")
	resp.Write(conn)
}
