// Package forward implements the plain (non-MITM) HTTP relay: absolute-form
// requests are rewritten to origin-form, relayed to the origin over plain
// TCP, and the response streamed back.
package forward

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"mitmproxy/internal/httpmsg"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

// Handle relays one plain-forward connection starting from the already
// classified first request. first.Target is an absolute-form URI
// ("http://host[:port]/path..."); clientAddr is the accepted peer address
// used for X-Forwarded-For.
func Handle(clientConn net.Conn, clientBR *bufio.Reader, first *httpmsg.Request, clientAddr string, maxHeaderBytes int, connectTimeout, idleTimeout time.Duration, log *logger.Logger, m *metrics.Metrics) {
	defer clientConn.Close()

	req := first
	for {
		m.ForwardRequestsTotal.Add(1)

		authority, originForm, err := splitAbsoluteForm(req.Target)
		if err != nil {
			log.Warnf("forward_rewrite", "bad absolute-form target %q: %v", req.Target, err)
			writeSynthesized(clientConn, 400, "invalid request target")
			return
		}
		req.Target = originForm
		clientKeepAlive := req.KeepAlive()
		httpmsg.StripHopByHop(&req.Header)
		appendForwardedFor(&req.Header, clientAddr)

		upstreamConn, err := net.DialTimeout("tcp", addWithDefaultPort(authority, "80"), connectTimeout)
		if err != nil {
			m.ErrorsUpstreamTotal.Add(1)
			log.Warnf("forward_dial", "dial %s: %v", authority, err)
			writeSynthesized(clientConn, 502, err.Error())
			return
		}

		keepAliveResult, err := relayOnce(upstreamConn, req, clientKeepAlive, clientConn, maxHeaderBytes, log, m)
		upstreamConn.Close()
		if err != nil {
			m.ErrorsUpstreamTotal.Add(1)
			log.Warnf("forward_relay", "relay to %s: %v", authority, err)
			return
		}
		if !keepAliveResult {
			return
		}

		clientConn.SetReadDeadline(time.Now().Add(idleTimeout))
		req, err = httpmsg.ReadRequest(clientBR, maxHeaderBytes)
		clientConn.SetReadDeadline(time.Time{})
		if err != nil {
			return
		}
	}
}

// relayOnce forwards req upstream, reads the response, streams it back to
// the client, and reports whether both sides want to keep the connection
// alive for another request. clientKeepAlive is the request's keep-alive
// preference, taken before its hop-by-hop headers were stripped.
func relayOnce(upstream net.Conn, req *httpmsg.Request, clientKeepAlive bool, client net.Conn, maxHeaderBytes int, log *logger.Logger, m *metrics.Metrics) (bool, error) {
	if err := req.Write(upstream); err != nil {
		return false, fmt.Errorf("write upstream request: %w", err)
	}

	upstreamBR := bufio.NewReader(upstream)
	resp, err := httpmsg.ReadResponse(upstreamBR, maxHeaderBytes, req.Method == "HEAD")
	if err != nil {
		return false, fmt.Errorf("read upstream response: %w", err)
	}

	respKeepAlive := resp.KeepAlive()
	if err := resp.Write(client); err != nil {
		return false, fmt.Errorf("write client response: %w", err)
	}

	return clientKeepAlive && respKeepAlive, nil
}

// splitAbsoluteForm rewrites an absolute-form URI into its authority and
// an origin-form request target ("/path?query").
func splitAbsoluteForm(target string) (authority, originForm string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("missing host in %q", target)
	}
	origin := u.Path
	if origin == "" {
		origin = "/"
	}
	if u.RawQuery != "" {
		origin += "?" + u.RawQuery
	}
	return u.Host, origin, nil
}

func addWithDefaultPort(authority, defaultPort string) string {
	if _, _, err := net.SplitHostPort(authority); err == nil {
		return authority
	}
	return net.JoinHostPort(authority, defaultPort)
}

// appendForwardedFor appends the client's IP to any existing
// X-Forwarded-For list, per spec §8 testable property #4.
func appendForwardedFor(h *httpmsg.Header, clientAddr string) {
	host, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		host = clientAddr
	}
	if existing, ok := h.Get("X-Forwarded-For"); ok && existing != "" {
		h.Set("X-Forwarded-For", existing+", "+host)
	} else {
		h.Set("X-Forwarded-For", host)
	}
}

func writeSynthesized(w net.Conn, status int, message string) {
	resp := &httpmsg.Response{
		Version:    "HTTP/1.1",
		StatusCode: status,
		Body:       []byte(strings.TrimSpace(message) + "\n"),
	}
	resp.Header.Set("Content-Type", "text/plain")
	resp.Write(w)
}
