package wscore

import (
	"bytes"
	"testing"
)

// maskedClientFrame builds the wire bytes a conforming client would send:
// masked, with the given opcode/fin/payload.
func maskedClientFrame(t *testing.T, opcode Opcode, fin bool, payload []byte, key [4]byte) []byte {
	t.Helper()
	var hdr []byte
	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	hdr = append(hdr, b0)

	n := len(payload)
	switch {
	case n <= 125:
		hdr = append(hdr, 0x80|byte(n))
	case n <= 0xffff:
		hdr = append(hdr, 0x80|126, byte(n>>8), byte(n))
	default:
		ext := make([]byte, 8)
		for i := 7; i >= 0; i-- {
			ext[i] = byte(n)
			n >>= 8
		}
		hdr = append(hdr, 0x80|127)
		hdr = append(hdr, ext...)
		n = len(payload)
	}
	hdr = append(hdr, key[:]...)

	masked := append([]byte(nil), payload...)
	for i := range masked {
		masked[i] ^= key[i%4]
	}
	return append(hdr, masked...)
}

func TestFrameReaderPayloadSizes(t *testing.T) {
	sizes := []int{0, 1, 125, 126, 127, 65535, 65536, 1048576}
	key := [4]byte{0x11, 0x22, 0x33, 0x44}

	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}
		wire := maskedClientFrame(t, OpBinary, true, payload, key)

		fr := newFrameReader(0)
		consumed, frame, res := fr.Step(wire)
		if res != ResultOk {
			t.Fatalf("size %d: Step result = %v, want ResultOk", size, res)
		}
		if consumed != len(wire) {
			t.Fatalf("size %d: consumed %d, want %d", size, consumed, len(wire))
		}
		if frame == nil {
			t.Fatalf("size %d: frame is nil", size)
		}
		if frame.Opcode != OpBinary {
			t.Fatalf("size %d: opcode = %v, want OpBinary", size, frame.Opcode)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("size %d: payload mismatch", size)
		}
	}
}

func TestFrameReaderFedOneByteAtATime(t *testing.T) {
	key := [4]byte{0xde, 0xad, 0xbe, 0xef}
	payload := []byte("hello, world")
	wire := maskedClientFrame(t, OpText, true, payload, key)

	fr := newFrameReader(0)
	var got *Frame
	for i := 0; i < len(wire); i++ {
		consumed, frame, res := fr.Step(wire[i : i+1])
		if consumed != 1 {
			t.Fatalf("byte %d: consumed = %d, want 1", i, consumed)
		}
		if res == ResultFatal {
			t.Fatalf("byte %d: unexpected ResultFatal", i)
		}
		if frame != nil {
			got = frame
		}
	}
	if got == nil {
		t.Fatal("frame never completed")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, payload)
	}
}

// TestFrameReaderFragmentation mirrors the "fragmented binary" scenario:
// two wire frames (continuation completes the message) arriving coalesced
// in a single Step call must reassemble into one Frame.
func TestFrameReaderFragmentation(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	first := maskedClientFrame(t, OpBinary, false, []byte{'a', 'b', 'c'}, key)
	second := maskedClientFrame(t, OpContinuation, true, []byte{'d', 'e'}, key)
	wire := append(append([]byte(nil), first...), second...)

	fr := newFrameReader(0)
	var frame *Frame
	consumedTotal := 0
	for consumedTotal < len(wire) {
		n, f, res := fr.Step(wire[consumedTotal:])
		if res == ResultFatal {
			t.Fatalf("unexpected ResultFatal at offset %d", consumedTotal)
		}
		consumedTotal += n
		if f != nil {
			frame = f
		}
		if n == 0 {
			break
		}
	}
	if frame == nil {
		t.Fatal("fragmented message never reassembled")
	}
	if frame.Opcode != OpBinary {
		t.Fatalf("opcode = %v, want OpBinary", frame.Opcode)
	}
	want := []byte("abcde")
	if !bytes.Equal(frame.Payload, want) {
		t.Fatalf("payload = %q, want %q", frame.Payload, want)
	}
}

func TestFrameReaderRejectsUnmaskedClientFrame(t *testing.T) {
	wire := EncodeFrame(OpText, []byte("hi"), false) // server-style unmasked
	fr := newFrameReader(0)
	_, frame, res := fr.Step(wire)
	if res != ResultFatal {
		t.Fatalf("result = %v, want ResultFatal for unmasked client frame", res)
	}
	if frame != nil {
		t.Fatal("expected no frame on protocol violation")
	}
}

func TestFrameReaderRejectsOversizedFrame(t *testing.T) {
	key := [4]byte{9, 9, 9, 9}
	wire := maskedClientFrame(t, OpBinary, true, make([]byte, 1024), key)
	fr := newFrameReader(100) // max 100 bytes
	_, _, res := fr.Step(wire)
	if res != ResultFatal {
		t.Fatalf("result = %v, want ResultFatal for oversized frame", res)
	}
}

// maskedClientFrameRSV1 is maskedClientFrame with the RSV1 bit (permessage-
// deflate's compressed-message marker, §6/§11) set on byte 0.
func maskedClientFrameRSV1(t *testing.T, opcode Opcode, fin bool, payload []byte, key [4]byte) []byte {
	t.Helper()
	wire := maskedClientFrame(t, opcode, fin, payload, key)
	wire[0] |= 0x40
	return wire
}

func TestFrameReaderRejectsRSV1WhenDeflateNotNegotiated(t *testing.T) {
	key := [4]byte{1, 1, 1, 1}
	wire := maskedClientFrameRSV1(t, OpBinary, true, []byte("x"), key)
	fr := newFrameReader(0) // deflate left false: not negotiated
	_, _, res := fr.Step(wire)
	if res != ResultFatal {
		t.Fatalf("result = %v, want ResultFatal for RSV1 without a negotiated extension", res)
	}
}

func TestFrameReaderAcceptsRSV1WhenDeflateNegotiated(t *testing.T) {
	key := [4]byte{2, 2, 2, 2}
	payload := []byte("compressed-looking payload")
	wire := maskedClientFrameRSV1(t, OpBinary, true, payload, key)
	fr := newFrameReader(0)
	fr.deflate = true
	_, frame, res := fr.Step(wire)
	if res != ResultOk {
		t.Fatalf("result = %v, want ResultOk", res)
	}
	if frame == nil || !frame.Compressed {
		t.Fatalf("frame = %+v, want Compressed = true", frame)
	}
}

func TestFrameReaderRejectsRSV1OnControlFrame(t *testing.T) {
	key := [4]byte{3, 3, 3, 3}
	wire := maskedClientFrameRSV1(t, OpPing, true, []byte("x"), key)
	fr := newFrameReader(0)
	fr.deflate = true
	_, _, res := fr.Step(wire)
	if res != ResultFatal {
		t.Fatalf("result = %v, want ResultFatal for RSV1 on a control frame", res)
	}
}

func TestFrameReaderRejectsFragmentedControlFrame(t *testing.T) {
	key := [4]byte{5, 5, 5, 5}
	wire := maskedClientFrame(t, OpPing, false, []byte("x"), key) // FIN=0 on a control frame
	fr := newFrameReader(0)
	_, _, res := fr.Step(wire)
	if res != ResultFatal {
		t.Fatalf("result = %v, want ResultFatal for fragmented control frame", res)
	}
}

func TestEncodeFrameServerHeader(t *testing.T) {
	payload := []byte("round trip me")
	wire := EncodeFrame(OpText, payload, false)
	if wire[0] != 0x81 {
		t.Fatalf("header byte0 = %#x, want 0x81 (FIN|text)", wire[0])
	}
	if wire[1]&0x80 != 0 {
		t.Fatal("server frame must not set the mask bit")
	}
}

func TestEncodeFrameRSV1Header(t *testing.T) {
	wire := EncodeFrameRSV1(OpBinary, []byte("x"), false, true)
	if wire[0]&0x40 == 0 {
		t.Fatal("expected RSV1 bit set")
	}
	if wire[0] != 0x82|0x40 {
		t.Fatalf("header byte0 = %#x, want FIN|RSV1|binary", wire[0])
	}
}

func TestEncodeAndParseCloseFrame(t *testing.T) {
	payload := CloseStatusPayload(CloseNormal, "bye")
	status, reason, ok := ParseCloseStatus(payload)
	if !ok {
		t.Fatal("ParseCloseStatus reported !ok for well-formed payload")
	}
	if status != CloseNormal {
		t.Errorf("status = %d, want %d", status, CloseNormal)
	}
	if reason != "bye" {
		t.Errorf("reason = %q, want %q", reason, "bye")
	}
}

func TestParseCloseStatusEmptyPayload(t *testing.T) {
	status, reason, ok := ParseCloseStatus(nil)
	if !ok || status != CloseNormal || reason != "" {
		t.Fatalf("got (%d, %q, %v), want (%d, \"\", true)", status, reason, ok, CloseNormal)
	}
}

func TestParseCloseStatusTruncatedPayload(t *testing.T) {
	_, _, ok := ParseCloseStatus([]byte{0x03})
	if ok {
		t.Fatal("expected ok=false for a 1-byte close payload")
	}
}
