// Package inspect defines the contract observers implement to see and
// mutate intercepted requests and responses, plus a reference handler
// that logs every exchange.
package inspect

import "mitmproxy/internal/httpmsg"

// Context carries the information a handler needs about the session a
// message belongs to, independent of the message itself.
type Context struct {
	// TargetAuthority is the "host:port" the client asked to reach.
	TargetAuthority string
	// MITM reports whether this exchange is being TLS-intercepted (true)
	// or relayed verbatim over the plain-forward path (false).
	MITM bool
	// ExchangeID identifies one request/response pair. It is the same
	// value across the OnRequest and OnResponse calls for a given
	// exchange, letting a handler correlate the response back to the
	// request it answers (e.g. to attach a status code to an
	// already-emitted event) without the interface itself carrying any
	// session state.
	ExchangeID string
}

// Decision is the result of inspecting a request: either let it continue
// to the origin, or answer the client directly without contacting it.
type Decision struct {
	shortCircuit bool
	request      *httpmsg.Request
	response     *httpmsg.Response
}

// Forward continues the exchange with (possibly mutated) req.
func Forward(req *httpmsg.Request) Decision {
	return Decision{request: req}
}

// ShortCircuit answers the client with resp without contacting the origin.
func ShortCircuit(resp *httpmsg.Response) Decision {
	return Decision{shortCircuit: true, response: resp}
}

// ShortCircuited reports whether this decision bypasses the origin.
func (d Decision) ShortCircuited() bool { return d.shortCircuit }

// Request returns the (possibly mutated) request to forward. Only valid
// when ShortCircuited() is false.
func (d Decision) Request() *httpmsg.Request { return d.request }

// Response returns the canned response to return to the client. Only
// valid when ShortCircuited() is true.
func (d Decision) Response() *httpmsg.Response { return d.response }

// Handler is the contract an observer implements to see and mutate
// intercepted traffic. Implementations must be safe for concurrent use
// across many connections and must not block indefinitely — a slow
// handler may only apply backpressure to the one connection it is
// currently handling, never to the proxy as a whole.
type Handler interface {
	// OnRequest is called with the request as received from the client.
	// It returns a Decision: forward (possibly mutated) or short-circuit
	// with a canned response.
	OnRequest(ctx Context, req *httpmsg.Request) Decision

	// OnResponse is called with the response as received from the
	// origin (or, for a short-circuited exchange, the canned response)
	// before any byte of it reaches the client. It returns the response
	// actually sent, which may be the same value mutated in place.
	OnResponse(ctx Context, resp *httpmsg.Response) *httpmsg.Response
}
