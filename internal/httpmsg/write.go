package httpmsg

import (
	"fmt"
	"io"
	"strconv"
)

// Write serialises the request line, headers, and body to w. Hop-by-hop
// headers are stripped first; Content-Length is then set (or cleared) to
// match the in-memory body exactly, so Transfer-Encoding never survives
// into the outgoing framing regardless of how the body was originally
// received.
func (r *Request) Write(w io.Writer) error {
	StripHopByHop(&r.Header)
	r.Header.Del("Content-Length")
	if len(r.Body) > 0 {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	if _, err := fmt.Fprintf(w, "%s %s %s\r\n", r.Method, r.Target, r.Version); err != nil {
		return err
	}
	if err := writeHeaders(w, &r.Header); err != nil {
		return err
	}
	if len(r.Body) > 0 {
		if _, err := w.Write(r.Body); err != nil {
			return err
		}
	}
	return nil
}

// Write serialises the status line, headers, and body to w, under the same
// Content-Length recomputation rule as Request.Write. Responses whose
// status forbids a body (1xx/204/304) are written with no Content-Length
// and no body, regardless of r.Body.
func (r *Response) Write(w io.Writer) error {
	StripHopByHop(&r.Header)
	r.Header.Del("Content-Length")

	noBody := noBodyStatus(r.StatusCode)
	if !noBody && len(r.Body) > 0 {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.StatusCode)
	}
	if _, err := fmt.Fprintf(w, "%s %d %s\r\n", r.Version, r.StatusCode, reason); err != nil {
		return err
	}
	if err := writeHeaders(w, &r.Header); err != nil {
		return err
	}
	if !noBody && len(r.Body) > 0 {
		if _, err := w.Write(r.Body); err != nil {
			return err
		}
	}
	return nil
}

func writeHeaders(w io.Writer, h *Header) error {
	var err error
	h.ForEach(func(key, value string) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, "%s: %s\r\n", key, value)
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "\r\n")
	return err
}

// StatusText returns a reason phrase for status, falling back to a generic
// one for codes this package doesn't special-case.
func StatusText(status int) string {
	if text, ok := statusText[status]; ok {
		return text
	}
	return "Unknown"
}

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}
