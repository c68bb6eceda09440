package httpmsg

// bodyMode records how a message's body length was determined, per the
// priority order in spec §4.1: chunked > Content-Length > 0 (request) /
// EOF-on-close (response).
type bodyMode int

const (
	bodyModeNone bodyMode = iota
	bodyModeContentLength
	bodyModeChunked
	bodyModeEOF
)

// Request is a parsed HTTP/1.1 request head plus its fully-read body.
// The body is always materialised in memory: chunked transfer is decoded
// during parsing, so the in-memory representation is uniform regardless of
// how the body arrived on the wire.
type Request struct {
	Method  string
	Target  string
	Version string
	Header  Header
	Body    []byte

	mode bodyMode // framing as parsed; informational, not binding on Write
}

// Response is a parsed HTTP/1.1 status line plus its fully-read body.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Header     Header
	Body       []byte

	mode bodyMode
}

// KeepAlive reports whether the request requests a persistent connection,
// per the HTTP/1.1-defaults-to-keep-alive / HTTP/1.0-defaults-to-close rule.
func (r *Request) KeepAlive() bool { return wantsKeepAlive(r.Version, &r.Header) }

// KeepAlive reports whether the response permits a persistent connection.
func (r *Response) KeepAlive() bool { return wantsKeepAlive(r.Version, &r.Header) }

// noBodyStatus reports whether a response of this status never carries a
// body regardless of framing headers (RFC 7230 §3.3.3).
func noBodyStatus(status int) bool {
	return (status >= 100 && status < 200) || status == 204 || status == 304
}
