package httpmsg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// headBudget tracks bytes consumed by the request/status line and headers
// so the head section can be rejected once it exceeds maxHeaderBytes.
type headBudget struct {
	limit int
	used  int
}

func (b *headBudget) consume(n int) error {
	b.used += n
	if b.used > b.limit {
		return ErrHeaderTooLarge
	}
	return nil
}

// readCRLFLine reads one line terminated by CRLF (a bare LF is tolerated, as
// real-world clients sometimes send it) and returns it without the
// terminator.
func readCRLFLine(br *bufio.Reader, budget *headBudget) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		if err != io.EOF {
			return "", err
		}
	}
	if budgetErr := budget.consume(len(line)); budgetErr != nil {
		return "", budgetErr
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// readHead reads the first line plus the header block terminated by a blank
// line, rejecting obsolete line folding (a continuation line beginning with
// SP/HTAB).
func readHead(br *bufio.Reader, maxHeaderBytes int) (first string, headers Header, err error) {
	budget := &headBudget{limit: maxHeaderBytes}

	first, err = readCRLFLine(br, budget)
	if err != nil {
		return "", Header{}, err
	}

	for {
		peek, peekErr := br.Peek(1)
		if peekErr == nil && len(peek) > 0 && (peek[0] == ' ' || peek[0] == '\t') {
			return "", Header{}, ErrObsoleteLineFolding
		}

		line, lineErr := readCRLFLine(br, budget)
		if lineErr != nil {
			return "", Header{}, lineErr
		}
		if line == "" {
			break
		}

		key, value, fieldErr := parseHeaderField(line)
		if fieldErr != nil {
			return "", Header{}, fieldErr
		}
		headers.Add(key, value)
	}

	return first, headers, nil
}

func parseHeaderField(line string) (key, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", ErrMalformedHeaderField
	}
	key = strings.TrimSpace(line[:idx])
	if strings.ContainsAny(key, " \t") {
		return "", "", ErrMalformedHeaderField
	}
	value = strings.TrimSpace(line[idx+1:])
	return key, value, nil
}

// ReadRequest parses one HTTP/1.1 request head and body from br.
func ReadRequest(br *bufio.Reader, maxHeaderBytes int) (*Request, error) {
	first, headers, err := readHead(br, maxHeaderBytes)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(first, " ", 3)
	if len(parts) != 3 {
		return nil, ErrMalformedRequestLine
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method == "" || target == "" || !isHTTPVersion(version) {
		return nil, ErrMalformedRequestLine
	}

	req := &Request{Method: method, Target: target, Version: version, Header: headers}

	body, mode, err := readBody(br, &headers, false, false)
	if err != nil {
		return nil, err
	}
	req.Body = body
	req.mode = mode
	return req, nil
}

// ReadResponse parses one HTTP/1.1 response head and body from br.
// headRequest reports whether the originating request method was HEAD, in
// which case no body is ever present regardless of framing headers.
// A body lacking explicit framing is read to EOF when the response does
// not permit a persistent connection (Connection: close, or HTTP/1.0
// without Connection: keep-alive); otherwise it is empty.
func ReadResponse(br *bufio.Reader, maxHeaderBytes int, headRequest bool) (*Response, error) {
	first, headers, err := readHead(br, maxHeaderBytes)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(first, " ", 3)
	if len(parts) < 2 {
		return nil, ErrMalformedStatusLine
	}
	version := parts[0]
	status, convErr := strconv.Atoi(parts[1])
	if convErr != nil || !isHTTPVersion(version) {
		return nil, ErrMalformedStatusLine
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	resp := &Response{Version: version, StatusCode: status, Reason: reason, Header: headers}

	if headRequest || noBodyStatus(status) {
		resp.mode = bodyModeNone
		return resp, nil
	}

	closeDelimited := !wantsKeepAlive(version, &headers)
	body, mode, bodyErr := readBody(br, &headers, true, closeDelimited)
	if bodyErr != nil {
		return nil, bodyErr
	}
	resp.Body = body
	resp.mode = mode
	return resp, nil
}

// readBody decodes the body per the priority in spec §4.1: chunked >
// Content-Length > (response-only, when closeDelimited) EOF > none.
func readBody(br *bufio.Reader, headers *Header, isResponse, closeDelimited bool) ([]byte, bodyMode, error) {
	if te, ok := headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		body, err := readChunked(br)
		return body, bodyModeChunked, err
	}

	if cl, ok := headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, bodyModeNone, ErrMalformedHeaderField
		}
		if n == 0 {
			return nil, bodyModeContentLength, nil
		}
		buf := make([]byte, n)
		if _, readErr := io.ReadFull(br, buf); readErr != nil {
			return nil, bodyModeNone, readErr
		}
		return buf, bodyModeContentLength, nil
	}

	if isResponse && closeDelimited {
		body, err := io.ReadAll(br)
		if err != nil {
			return nil, bodyModeNone, err
		}
		return body, bodyModeEOF, nil
	}

	return nil, bodyModeNone, nil
}

// readChunked decodes a chunked body per RFC 7230 §4.1, stopping at the
// terminating zero-length chunk and its trailing CRLF. Chunk extensions are
// accepted and ignored; trailer fields (rare in practice) are consumed and
// discarded.
func readChunked(br *bufio.Reader) ([]byte, error) {
	var out []byte
	budget := &headBudget{limit: 1 << 20} // chunk-size lines are tiny; generous cap against abuse

	for {
		sizeLine, err := readCRLFLine(br, budget)
		if err != nil {
			return nil, ErrMalformedChunk
		}
		sizeLine = strings.TrimSpace(strings.SplitN(sizeLine, ";", 2)[0])
		size, err := strconv.ParseUint(sizeLine, 16, 64)
		if err != nil {
			return nil, ErrMalformedChunk
		}
		if size == 0 {
			// Consume trailer fields up to the terminating blank line.
			for {
				line, trailerErr := readCRLFLine(br, budget)
				if trailerErr != nil {
					return nil, ErrMalformedChunk
				}
				if line == "" {
					break
				}
			}
			return out, nil
		}

		chunk := make([]byte, size)
		if _, readErr := io.ReadFull(br, chunk); readErr != nil {
			return nil, ErrMalformedChunk
		}
		out = append(out, chunk...)

		crlf := make([]byte, 2)
		if _, readErr := io.ReadFull(br, crlf); readErr != nil || crlf[0] != '\r' || crlf[1] != '\n' {
			return nil, ErrMalformedChunk
		}
	}
}

func isHTTPVersion(v string) bool {
	return v == "HTTP/1.1" || v == "HTTP/1.0"
}
