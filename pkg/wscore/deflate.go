package wscore

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// permessageDeflate implements the optional extension named in
// Sec-WebSocket-Extensions and passed through to the subprotocol plugin per
// §6 ("Extensions (compression, permessage-deflate) are optional and
// negotiated via the Sec-WebSocket-Extensions header; the core passes the
// extension list through to the subprotocol plugin, which may opt in to
// compression of Text/Binary payloads"). deflate.go is where the core uses
// klauspost/compress directly, compressing/
// decompressing Text and Binary payloads before they reach the frame
// encoder/after the frame reader.
type permessageDeflate struct{}

// CompressPayload deflates data with the RFC 7692 "no final empty block"
// trim applied: the trailing 4 bytes 00 00 ff ff are stripped, to be
// re-appended by the peer's inflater before decompressing.
func (permessageDeflate) CompressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if bytes.HasSuffix(out, []byte{0x00, 0x00, 0xff, 0xff}) {
		out = out[:len(out)-4]
	}
	return out, nil
}

// DecompressPayload restores the trimmed trailer and inflates.
func (permessageDeflate) DecompressPayload(data []byte) ([]byte, error) {
	data = append(data, 0x00, 0x00, 0xff, 0xff)
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
