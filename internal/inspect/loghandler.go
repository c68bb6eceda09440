package inspect

import (
	"sync"

	"mitmproxy/internal/eventlog"
	"mitmproxy/internal/httpmsg"
)

// LogHandler is the reference Handler: it forwards every request and
// response unchanged, emitting an eventlog.Event for each exchange so an
// external observer (a TUI, a tail -f-style consumer) can watch traffic
// as it flows. The event is published once at request time (status and
// response headers absent) and republished with the response attached
// once one arrives, correlated via Context.ExchangeID.
type LogHandler struct {
	events *eventlog.Log

	mu      sync.Mutex
	pending map[string]eventlog.Event
}

// NewLogHandler returns a LogHandler that publishes to events.
func NewLogHandler(events *eventlog.Log) *LogHandler {
	return &LogHandler{events: events, pending: make(map[string]eventlog.Event)}
}

// OnRequest records the request and forwards it unmodified.
func (h *LogHandler) OnRequest(ctx Context, req *httpmsg.Request) Decision {
	ev := eventlog.NewEvent(ctx.TargetAuthority, req.Method, req.Target, headerMap(&req.Header))
	if ctx.ExchangeID != "" {
		ev.ID = ctx.ExchangeID
		h.mu.Lock()
		h.pending[ctx.ExchangeID] = ev
		h.mu.Unlock()
	}
	h.events.Publish(ev)
	return Forward(req)
}

// OnResponse attaches the response's status and headers to the event
// recorded by OnRequest for the same exchange, then republishes it so
// both the live channel and the durable history reflect the outcome.
func (h *LogHandler) OnResponse(ctx Context, resp *httpmsg.Response) *httpmsg.Response {
	if ctx.ExchangeID == "" {
		return resp
	}

	h.mu.Lock()
	ev, ok := h.pending[ctx.ExchangeID]
	delete(h.pending, ctx.ExchangeID)
	h.mu.Unlock()
	if !ok {
		return resp
	}

	status := resp.StatusCode
	ev.Status = &status
	ev.ResponseHeaders = headerMap(&resp.Header)
	h.events.Publish(ev)
	return resp
}

func headerMap(h *httpmsg.Header) map[string]string {
	out := make(map[string]string)
	h.ForEach(func(key, value string) {
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	})
	return out
}
