// Package dispatch classifies the first request on a freshly accepted
// connection and routes it to the plain-forward path or the MITM tunnel.
package dispatch

import (
	"bufio"
	"net"
	"strings"

	"mitmproxy/internal/httpmsg"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

// Kind identifies which path a connection's first request routes to.
type Kind int

const (
	// KindUnknown is returned alongside a non-nil error and is never a
	// valid routing decision on its own.
	KindUnknown Kind = iota
	// KindConnect routes to the MITM tunnel; Target is "host:port".
	KindConnect
	// KindForward routes to the plain-forward path; Target is the
	// absolute-form request-target ("http://host[:port]/path"), Request
	// the parsed first request with that target intact.
	KindForward
)

// Decision is the result of classifying a connection's first request.
type Decision struct {
	Kind    Kind
	Target  string
	Request *httpmsg.Request
}

// Classify reads one HTTP/1.1 request from br (as required to inspect its
// method and target) and routes it per spec §4.7:
//   - CONNECT host:port  → KindConnect
//   - absolute-form "http://..." target → KindForward
//   - anything else → an error; the caller replies 501 and closes.
func Classify(br *bufio.Reader, maxHeaderBytes int, log *logger.Logger, m *metrics.Metrics) (Decision, error) {
	req, err := httpmsg.ReadRequest(br, maxHeaderBytes)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case req.Method == "CONNECT":
		host, _, splitErr := net.SplitHostPort(req.Target)
		if splitErr != nil {
			host = req.Target
		}
		log.Debugf("dispatch_classify", "CONNECT %s", req.Target)
		return Decision{Kind: KindConnect, Target: normalizeConnectTarget(req.Target, host), Request: req}, nil

	case strings.HasPrefix(req.Target, "http://"):
		log.Debugf("dispatch_classify", "forward %s %s", req.Method, req.Target)
		return Decision{Kind: KindForward, Target: req.Target, Request: req}, nil

	default:
		m.UnknownMethodTotal.Add(1)
		return Decision{}, ErrUnknownMethod
	}
}

// normalizeConnectTarget ensures the CONNECT target always carries an
// explicit port, defaulting to 443 (the only sensible default for a
// CONNECT tunnel) when the client omitted one.
func normalizeConnectTarget(target, host string) string {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(host, "443")
}
