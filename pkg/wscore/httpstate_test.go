package wscore

import (
	"bytes"
	"testing"
)

func TestHTTPRequestParserNeedsMoreData(t *testing.T) {
	p := NewHTTPRequestParser()
	consumed, result := p.Step([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n"))
	if result != HTTPNeedsMoreData {
		t.Fatalf("result = %v, want HTTPNeedsMoreData", result)
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0 while headers are incomplete", consumed)
	}
}

func TestHTTPRequestParserHeadersComplete(t *testing.T) {
	p := NewHTTPRequestParser()
	req := "GET /status HTTP/1.1\r\nHost: example.com\r\n\r\n"
	consumed, result := p.Step([]byte(req))
	if result != HTTPHeadersComplete {
		t.Fatalf("result = %v, want HTTPHeadersComplete", result)
	}
	if consumed != len(req) {
		t.Fatalf("consumed = %d, want %d", consumed, len(req))
	}
	parsed := p.Request()
	if parsed.Method != "GET" || parsed.Path != "/status" {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestHTTPRequestParserUpgradeRequested(t *testing.T) {
	p := NewHTTPRequestParser()
	req := "GET /ws HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, result := p.Step([]byte(req))
	if result != HTTPUpgradeRequested {
		t.Fatalf("result = %v, want HTTPUpgradeRequested", result)
	}
}

func TestHTTPRequestParserInvalidRequestLine(t *testing.T) {
	p := NewHTTPRequestParser()
	_, result := p.Step([]byte("not a request line at all\r\n\r\n"))
	if result != HTTPInvalid {
		t.Fatalf("result = %v, want HTTPInvalid", result)
	}
}

func TestHTTPRequestParserOversizedHeaderBlock(t *testing.T) {
	p := NewHTTPRequestParser()
	huge := bytes.Repeat([]byte("x"), maxHeaderBlockBytes+1)
	_, result := p.Step(huge)
	if result != HTTPInvalid {
		t.Fatalf("result = %v, want HTTPInvalid for an oversized header block", result)
	}
}

func TestWriteSwitchingProtocolsIncludesProtocol(t *testing.T) {
	out := string(WriteSwitchingProtocols("s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", "chat", false))
	if !bytes.Contains([]byte(out), []byte("101 Switching Protocols")) {
		t.Fatal("missing 101 status line")
	}
	if !bytes.Contains([]byte(out), []byte("Sec-WebSocket-Protocol: chat")) {
		t.Fatal("missing negotiated subprotocol header")
	}
}

func TestWriteSwitchingProtocolsOmitsEmptyProtocol(t *testing.T) {
	out := string(WriteSwitchingProtocols("accept-value", "", false))
	if bytes.Contains([]byte(out), []byte("Sec-WebSocket-Protocol")) {
		t.Fatal("should omit Sec-WebSocket-Protocol header when no subprotocol was negotiated")
	}
}

func TestWriteSwitchingProtocolsIncludesDeflateExtension(t *testing.T) {
	out := string(WriteSwitchingProtocols("accept-value", "", true))
	if !bytes.Contains([]byte(out), []byte("Sec-WebSocket-Extensions: permessage-deflate")) {
		t.Fatal("missing Sec-WebSocket-Extensions header when deflate was negotiated")
	}
}

func TestWriteStatusResponse(t *testing.T) {
	out := string(WriteStatusResponse(404, "Not Found"))
	if !bytes.Contains([]byte(out), []byte("404 Not Found")) {
		t.Fatal("missing status line")
	}
	if !bytes.Contains([]byte(out), []byte("Content-Length: 9")) {
		t.Fatal("missing correct Content-Length")
	}
}
