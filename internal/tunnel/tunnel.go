// Package tunnel drives the MITM tunnel state machine (C6): terminate
// client TLS with a minted leaf, open an upstream TLS connection, and pump
// HTTP/1.1 messages between them through an inspection handler.
package tunnel

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"mitmproxy/internal/certcache"
	"mitmproxy/internal/httpmsg"
	"mitmproxy/internal/inspect"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

// State names the tunnel's position in the C6 state machine, exposed for
// logging and tests.
type State int

const (
	StateAwaitingConnect State = iota
	StateSendingOK
	StateClientTLSHandshake
	StateUpstreamDial
	StateUpstreamTLSHandshake
	StatePumping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingConnect:
		return "AwaitingConnect"
	case StateSendingOK:
		return "SendingOk"
	case StateClientTLSHandshake:
		return "ClientTlsHandshake"
	case StateUpstreamDial:
		return "UpstreamDial"
	case StateUpstreamTLSHandshake:
		return "UpstreamTlsHandshake"
	case StatePumping:
		return "Pumping"
	default:
		return "Closed"
	}
}

// Timeouts bundles the durations the tunnel enforces at each blocking step.
type Timeouts struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

// Handle drives one MITM tunnel to completion. clientConn is the raw
// socket immediately after CONNECT was classified by C7; target is
// "host:port" as parsed from the CONNECT request-target.
func Handle(clientConn net.Conn, target string, certs *certcache.Cache, handler inspect.Handler, maxHeaderBytes int, timeouts Timeouts, log *logger.Logger, m *metrics.Metrics) {
	defer clientConn.Close()

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}

	state := StateSendingOK
	log.Debugf("tunnel_state", "%s -> %s", host, state)
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		log.Warnf("tunnel_connect_ok", "write 200 to client for %s: %v", host, err)
		return
	}

	state = StateClientTLSHandshake
	log.Debugf("tunnel_state", "%s -> %s", host, state)
	clientTLS, err := handshakeClient(clientConn, host, certs, timeouts.HandshakeTimeout, m)
	if err != nil {
		log.Debugf("tunnel_client_handshake", "client TLS handshake for %s: %v", host, err)
		return
	}
	defer clientTLS.Close()

	state = StateUpstreamDial
	log.Debugf("tunnel_state", "%s -> %s", host, state)
	upstreamConn, err := net.DialTimeout("tcp", target, timeouts.ConnectTimeout)
	if err != nil {
		m.ErrorsUpstreamTotal.Add(1)
		writeSynthesizedTLS(clientTLS, 502, fmt.Sprintf("dial %s: %v", target, err))
		return
	}
	defer upstreamConn.Close()

	state = StateUpstreamTLSHandshake
	log.Debugf("tunnel_state", "%s -> %s", host, state)
	upstreamTLS, err := handshakeUpstream(upstreamConn, host, timeouts.HandshakeTimeout, m)
	if err != nil {
		m.ErrorsUpstreamTotal.Add(1)
		writeSynthesizedTLS(clientTLS, 502, fmt.Sprintf("upstream TLS handshake with %s: %v", host, err))
		return
	}
	defer upstreamTLS.Close()

	state = StatePumping
	log.Debugf("tunnel_state", "%s -> %s", host, state)
	pump(clientTLS, upstreamTLS, host, target, handler, maxHeaderBytes, timeouts.IdleTimeout, log, m)

	state = StateClosed
	log.Debugf("tunnel_state", "%s -> %s", host, state)
}

func handshakeClient(conn net.Conn, host string, certs *certcache.Cache, handshakeTimeout time.Duration, m *metrics.Metrics) (*tls.Conn, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return certs.Get(host)
		},
	}
	tlsConn := tls.Server(conn, cfg)

	start := time.Now()
	err := tlsConn.Handshake()
	m.RecordHandshakeLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func handshakeUpstream(conn net.Conn, host string, handshakeTimeout time.Duration, m *metrics.Metrics) (*tls.Conn, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	})

	start := time.Now()
	err := tlsConn.Handshake()
	m.RecordHandshakeLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// pump implements the Pumping state: read a request, run on_request,
// either answer from a short-circuit or forward upstream and run
// on_response, write the response, and loop while both sides keep-alive.
func pump(clientTLS, upstreamTLS net.Conn, host, target string, handler inspect.Handler, maxHeaderBytes int, idleTimeout time.Duration, log *logger.Logger, m *metrics.Metrics) {
	clientBR := bufio.NewReader(clientTLS)
	upstreamBR := bufio.NewReader(upstreamTLS)

	for {
		clientTLS.SetReadDeadline(time.Now().Add(idleTimeout))
		req, err := httpmsg.ReadRequest(clientBR, maxHeaderBytes)
		clientTLS.SetReadDeadline(time.Time{})
		if err != nil {
			return
		}

		ctx := inspect.Context{TargetAuthority: target, MITM: true, ExchangeID: uuid.NewString()}
		requestKeepAlive := req.KeepAlive()

		decision, ok := invokeOnRequest(handler, ctx, req, m)
		if !ok {
			writeSynthesizedTLS(clientTLS, 500, "handler panic")
			return
		}

		var resp *httpmsg.Response
		if decision.ShortCircuited() {
			m.TunnelsShortCircuited.Add(1)
			resp = decision.Response()
		} else {
			resp, err = relayUpstream(upstreamTLS, upstreamBR, decision.Request(), maxHeaderBytes)
			if err != nil {
				m.ErrorsUpstreamTotal.Add(1)
				log.Debugf("tunnel_upstream", "%s: %v", host, err)
				writeSynthesizedTLS(clientTLS, 502, err.Error())
				return
			}
		}

		resp, ok = invokeOnResponse(handler, ctx, resp, m)
		if !ok {
			writeSynthesizedTLS(clientTLS, 500, "handler panic")
			return
		}

		responseKeepAlive := resp.KeepAlive()
		if err := resp.Write(clientTLS); err != nil {
			return
		}

		if !(requestKeepAlive && responseKeepAlive) {
			return
		}
	}
}

func relayUpstream(upstream net.Conn, upstreamBR *bufio.Reader, req *httpmsg.Request, maxHeaderBytes int) (*httpmsg.Response, error) {
	if err := req.Write(upstream); err != nil {
		return nil, fmt.Errorf("write upstream request: %w", err)
	}
	resp, err := httpmsg.ReadResponse(upstreamBR, maxHeaderBytes, req.Method == "HEAD")
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp, nil
}

// invokeOnRequest isolates a handler panic to this connection, per §7.
func invokeOnRequest(handler inspect.Handler, ctx inspect.Context, req *httpmsg.Request, m *metrics.Metrics) (decision inspect.Decision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.ErrorsHandlerPanicTotal.Add(1)
			ok = false
		}
	}()
	return handler.OnRequest(ctx, req), true
}

func invokeOnResponse(handler inspect.Handler, ctx inspect.Context, resp *httpmsg.Response, m *metrics.Metrics) (out *httpmsg.Response, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.ErrorsHandlerPanicTotal.Add(1)
			ok = false
		}
	}()
	return handler.OnResponse(ctx, resp), true
}

func writeSynthesizedTLS(w net.Conn, status int, message string) {
	resp := &httpmsg.Response{
		Version:    "HTTP/1.1",
		StatusCode: status,
		Body:       []byte(strings.TrimSpace(message) + "\n"),
	}
	resp.Header.Set("Content-Type", "text/plain")
	resp.Write(w)
}
