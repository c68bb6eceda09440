package httpmsg

import "strings"

// hopByHopHeaders lists the headers RFC 7230 §6.1 calls connection-specific:
// meaningful only to the immediate TCP connection, never forwarded unchanged.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes the fixed hop-by-hop header set plus any extra
// header named as a token inside a Connection header value (RFC 7230 §6.1
// lets either side nominate additional per-hop headers that way).
func StripHopByHop(h *Header) {
	if conn, ok := h.Get("Connection"); ok {
		for _, tok := range strings.Split(conn, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				h.Del(tok)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// wantsKeepAlive reports whether version/header combination requests
// persistent connections: HTTP/1.1 defaults to keep-alive unless
// "Connection: close" is present; HTTP/1.0 defaults to close unless
// "Connection: keep-alive" is present.
func wantsKeepAlive(version string, h *Header) bool {
	conn, has := h.Get("Connection")
	closeRequested := has && containsToken(conn, "close")
	keepAliveRequested := has && containsToken(conn, "keep-alive")

	if version == "HTTP/1.0" {
		return keepAliveRequested
	}
	return !closeRequested
}

func containsToken(header, token string) bool {
	for _, tok := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), token) {
			return true
		}
	}
	return false
}
