package forward

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mitmproxy/internal/httpmsg"
	"mitmproxy/internal/logger"
	"mitmproxy/internal/metrics"
)

func testLogger() *logger.Logger { return logger.New("FORWARD", "error") }

func TestSplitAbsoluteForm(t *testing.T) {
	cases := []struct {
		in, wantAuthority, wantOrigin string
	}{
		{"http://example.com/widgets", "example.com", "/widgets"},
		{"http://example.com:8080/a?b=c", "example.com:8080", "/a?b=c"},
		{"http://example.com", "example.com", "/"},
	}
	for _, c := range cases {
		authority, origin, err := splitAbsoluteForm(c.in)
		if err != nil {
			t.Fatalf("splitAbsoluteForm(%q): %v", c.in, err)
		}
		if authority != c.wantAuthority || origin != c.wantOrigin {
			t.Errorf("splitAbsoluteForm(%q) = (%q, %q), want (%q, %q)", c.in, authority, origin, c.wantAuthority, c.wantOrigin)
		}
	}
}

func TestAppendForwardedForAppendsToExisting(t *testing.T) {
	var h httpmsg.Header
	h.Add("X-Forwarded-For", "10.0.0.1")
	appendForwardedFor(&h, "192.168.1.5:54321")

	got, _ := h.Get("X-Forwarded-For")
	if got != "10.0.0.1, 192.168.1.5" {
		t.Fatalf("X-Forwarded-For = %q", got)
	}
}

func TestAppendForwardedForSetsWhenAbsent(t *testing.T) {
	var h httpmsg.Header
	appendForwardedFor(&h, "192.168.1.5:54321")
	got, _ := h.Get("X-Forwarded-For")
	if got != "192.168.1.5" {
		t.Fatalf("X-Forwarded-For = %q", got)
	}
}

func TestHandleForwardsToOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") != "" {
			t.Errorf("Connection header leaked to origin: %q", r.Header.Get("Connection"))
		}
		if r.Header.Get("X-Forwarded-For") == "" {
			t.Error("X-Forwarded-For missing at origin")
		}
		w.Header().Set("X-Reply", "yes")
		w.Write([]byte("ok"))
	}))
	defer origin.Close()

	client, server := net.Pipe()
	defer client.Close()

	originURL := strings.TrimPrefix(origin.URL, "http://")
	req := &httpmsg.Request{Method: "GET", Target: "http://" + originURL + "/x", Version: "HTTP/1.1"}
	req.Header.Add("Host", originURL)
	req.Header.Add("Connection", "close")

	done := make(chan struct{})
	go func() {
		Handle(server, bufio.NewReader(server), req, "203.0.113.9:1234", 8192, 2*time.Second, 2*time.Second, testLogger(), metrics.New())
		close(done)
	}()

	clientBR := bufio.NewReader(client)
	resp, err := httpmsg.ReadResponse(clientBR, 8192, false)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("Body = %q", resp.Body)
	}
	<-done
}
