package httpmsg

import "errors"

// Parse/serialise errors. When the first request on a connection fails to
// parse, internal/server answers 400 and closes. A later request on a
// kept-alive forward or tunnel connection that fails to parse closes the
// connection without a 400. A malformed upstream status line gets a 502
// inside a tunnel and no response on the forward path.
var (
	ErrMalformedRequestLine  = errors.New("httpmsg: malformed request line")
	ErrMalformedStatusLine   = errors.New("httpmsg: malformed status line")
	ErrHeaderTooLarge        = errors.New("httpmsg: header section exceeds limit")
	ErrObsoleteLineFolding   = errors.New("httpmsg: obsolete header line folding rejected")
	ErrMalformedHeaderField  = errors.New("httpmsg: malformed header field")
	ErrMalformedChunk        = errors.New("httpmsg: malformed chunk framing")
	ErrUnsupportedVersion    = errors.New("httpmsg: unsupported HTTP version")
)
