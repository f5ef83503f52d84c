package wscore

import (
	"bufio"
	"bytes"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HTTPStepResult is the outcome of one HTTPRequestParser.Step call (§4.G:
// "a parser that, given bytes in the read buffer, advances to one of
// {needs-more-data, headers-complete, upgrade-requested, invalid}").
type HTTPStepResult uint8

const (
	HTTPNeedsMoreData HTTPStepResult = iota
	HTTPHeadersComplete
	HTTPUpgradeRequested
	HTTPInvalid
)

// ParsedRequest is the subset of an HTTP/1.1 request the core cares about.
// Header syntax beyond "split on CRLF, split each line on the first colon"
// is delegated to the standard library's textproto reader rather than
// hand-rolled, matching §4.G's note that "the specific header syntax is
// handled by the external collaborator". List-valued header semantics
// (Connection/Upgrade token matching) go through golang.org/x/net/http/
// httpguts instead, which is what the request line/header split still
// leaves unhandled.
type ParsedRequest struct {
	Method  string
	Path    string
	Version string
	Header  http.Header
}

// HTTPRequestParser incrementally parses one request line + header block
// out of a connection's read buffer. It is deliberately minimal: no body
// parsing, no chunked transfer decoding, no keep-alive request pipelining
// beyond the one request needed to drive an upgrade (§4.G Non-goals: "HTTP
// header text parsing details ... are out of scope" for the core's own
// wire-level concerns, but a conforming request line/header reader is
// still required to reach the upgrade decision).
type HTTPRequestParser struct {
	req *ParsedRequest
}

func NewHTTPRequestParser() *HTTPRequestParser { return &HTTPRequestParser{} }

// Step attempts to parse a full request line + header block out of data.
// It returns HTTPNeedsMoreData if the terminating CRLFCRLF has not yet
// arrived, HTTPInvalid on a malformed request line, or HTTPHeadersComplete/
// HTTPUpgradeRequested with consumed set to the number of bytes to advance
// past in the connection's read buffer.
func (p *HTTPRequestParser) Step(data []byte) (consumed int, result HTTPStepResult) {
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(data) > maxHeaderBlockBytes {
			return 0, HTTPInvalid
		}
		return 0, HTTPNeedsMoreData
	}
	end := idx + 4

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(data[:end])))
	line, err := reader.ReadLine()
	if err != nil {
		return end, HTTPInvalid
	}
	method, path, version, ok := parseRequestLine(line)
	if !ok {
		return end, HTTPInvalid
	}

	mimeHeader, err := reader.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		return end, HTTPInvalid
	}

	p.req = &ParsedRequest{
		Method:  method,
		Path:    path,
		Version: version,
		Header:  http.Header(mimeHeader),
	}

	if isUpgradeRequest(p.req) {
		return end, HTTPUpgradeRequested
	}
	return end, HTTPHeadersComplete
}

// Request returns the most recently completed parse, or nil before the
// first successful Step.
func (p *HTTPRequestParser) Request() *ParsedRequest { return p.req }

const maxHeaderBlockBytes = 16 * 1024

func parseRequestLine(line string) (method, path, version string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// isUpgradeRequest uses httpguts' RFC 7230 list-syntax token matcher rather
// than a hand-rolled comma-split, since Connection/Upgrade are both
// "#token"-style list headers and httpguts.HeaderValuesContainsToken already
// handles OWS and multiple header occurrences correctly.
func isUpgradeRequest(r *ParsedRequest) bool {
	return httpguts.HeaderValuesContainsToken(r.Header.Values("Upgrade"), "websocket") &&
		httpguts.HeaderValuesContainsToken(r.Header.Values("Connection"), "Upgrade")
}

// WriteSwitchingProtocols renders the 101 response line + headers (§4.G:
// "a writer that produces the 101-Switching-Protocols response string").
// deflate echoes back Sec-WebSocket-Extensions: permessage-deflate when the
// handshake negotiated it (§6, §11 domain-stack deflate wiring).
func WriteSwitchingProtocols(accept, protocol string, deflate bool) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(accept)
	b.WriteString("\r\n")
	if protocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(protocol)
		b.WriteString("\r\n")
	}
	if deflate {
		b.WriteString("Sec-WebSocket-Extensions: permessage-deflate\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// WriteStatusResponse renders a minimal non-101 response, used when the
// handshake or decode_headers callback rejects a request (§4.G, §4.I.2).
func WriteStatusResponse(status int, body string) []byte {
	var b bytes.Buffer
	statusText := http.StatusText(status)
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(status))
	b.WriteByte(' ')
	b.WriteString(statusText)
	b.WriteString("\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteString("\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}
