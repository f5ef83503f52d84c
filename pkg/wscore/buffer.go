package wscore

import "github.com/valyala/bytebufferpool"

// bufPool is the shared pool backing every connection's read and write
// buffers (§3: "growable byte buffers, reused across operations"). Pooling
// these avoids a per-connection allocation storm under high churn, the same
// problem bytebufferpool solves for fasthttp request/response bodies.
var bufPool bytebufferpool.Pool

// growBuffer is a thin wrapper around *bytebufferpool.ByteBuffer that adds
// the two primitives the protocol layers need beyond append: consuming N
// bytes from the front (used by the HTTP and WebSocket parsers as they
// consume what they've parsed) and a full reset for recycle.
type growBuffer struct {
	buf *bytebufferpool.ByteBuffer
}

func newGrowBuffer() *growBuffer {
	return &growBuffer{buf: bufPool.Get()}
}

// Bytes returns the buffer's current contents.
func (g *growBuffer) Bytes() []byte {
	return g.buf.B
}

// Len returns the number of unconsumed bytes currently buffered.
func (g *growBuffer) Len() int {
	return len(g.buf.B)
}

// Append grows the buffer geometrically (delegated to bytebufferpool, which
// doubles capacity on overflow) and appends data.
func (g *growBuffer) Append(data []byte) {
	_, _ = g.buf.Write(data)
}

// Advance removes n bytes from the front of the buffer via a pointer
// advance — implemented here as a copy of the remainder to the front, since
// bytebufferpool has no native "consume prefix" operation. This mirrors the
// source's "remove N bytes from front" primitive (§4.D).
func (g *growBuffer) Advance(n int) {
	if n <= 0 {
		return
	}
	if n >= len(g.buf.B) {
		g.buf.Reset()
		return
	}
	remaining := len(g.buf.B) - n
	copy(g.buf.B[:remaining], g.buf.B[n:])
	g.buf.B = g.buf.B[:remaining]
}

// Reset empties the buffer but keeps its backing array for reuse.
func (g *growBuffer) Reset() {
	g.buf.Reset()
}

// ShrinkToFit releases the backing array back to the pool and acquires a
// fresh small one — used by the idle scanner's release_memory_on_idle
// (§4.F) so long-idle connections don't pin large buffers.
func (g *growBuffer) ShrinkToFit() {
	bufPool.Put(g.buf)
	g.buf = bufPool.Get()
}

// Release returns the buffer to the shared pool permanently; called once
// when the connection slot itself is being recycled/destroyed.
func (g *growBuffer) Release() {
	if g.buf != nil {
		bufPool.Put(g.buf)
		g.buf = nil
	}
}
