package wscore

// driver is the ConnCallbacks implementation every accepted connection
// starts life with (§9's "capability abstraction ... passed at
// construction"). It owns the HTTP-to-WebSocket state transition: bytes are
// fed through the HTTP parser until an upgrade is negotiated, after which
// they are fed through the frame reader instead.
type driver struct {
	srv  *Server
	conn *Conn
}

func (d *driver) OnRead(conn *Conn) Result {
	if conn.httpState != HTTPUpgraded {
		return d.stepHTTP(conn)
	}
	return d.stepWS(conn)
}

func (d *driver) stepHTTP(conn *Conn) Result {
	for {
		data := conn.readBuf.Bytes()
		consumed, result := conn.httpParser.Step(data)
		if consumed > 0 {
			conn.readBuf.Advance(consumed)
		}

		switch result {
		case HTTPNeedsMoreData:
			return ResultOk

		case HTTPInvalid:
			conn.engine.Write(conn, WriteStatusResponse(400, "Bad Request"), 0, conn.callbacks)
			return ResultClosed

		case HTTPHeadersComplete:
			// The core has no general request routing (§1 Non-goals); a
			// non-upgrade request this deep in the core is answered 404 and
			// closed. An embedding application wanting full HTTP handling
			// supplies its own ConnCallbacks instead of the default driver.
			conn.engine.Write(conn, WriteStatusResponse(404, "Not Found"), 0, conn.callbacks)
			return ResultClosed

		case HTTPUpgradeRequested:
			if !d.handleUpgrade(conn) {
				return ResultClosed
			}
			// Any bytes remaining in the buffer are the first WebSocket
			// frame(s) pipelined right after the handshake; fall through to
			// frame parsing instead of waiting for the next read event.
			return d.stepWS(conn)
		}
	}
}

func (d *driver) handleUpgrade(conn *Conn) bool {
	req := conn.httpParser.Request()
	outcome := d.srv.upgrader.Negotiate(req)
	if !outcome.Accepted {
		conn.engine.Write(conn, WriteStatusResponse(outcome.Status, "Bad Request"), 0, conn.callbacks)
		return false
	}

	conn.engine.Write(conn, WriteSwitchingProtocols(outcome.Accept, outcome.Protocol, outcome.Deflate), 0, conn.callbacks)
	conn.httpState = HTTPUpgraded
	conn.wsState = WSRun
	conn.proto = outcome.Protocol
	conn.deflate = outcome.Deflate
	conn.frameReader.deflate = outcome.Deflate

	d.srv.upgradeMu.RLock()
	handler := d.srv.upgradeHandlers[outcome.Protocol]
	onConnect := d.srv.onConnect
	d.srv.upgradeMu.RUnlock()

	if handler != nil {
		safeCall(func() { handler(conn) })
	}
	if onConnect != nil {
		safeCall(func() { onConnect(conn) })
	}
	return true
}

func (d *driver) stepWS(conn *Conn) Result {
	for {
		data := conn.readBuf.Bytes()
		consumed, frame, res := conn.frameReader.Step(data)
		if consumed > 0 {
			conn.readBuf.Advance(consumed)
		}

		if res == ResultFatal {
			d.protocolError(conn)
			return ResultClosed
		}

		if frame != nil {
			if d.srv.metrics != nil {
				d.srv.metrics.frameReceived(frame.Opcode)
			}
			if closeNow := d.dispatchFrame(conn, *frame); closeNow {
				return ResultClosed
			}
		}

		if consumed == 0 {
			return ResultOk
		}
	}
}

// dispatchFrame implements the control-frame handling of §4.H (ping/pong/
// close) and routes Text/Binary frames to the application's OnFrame
// callback. It returns true when the transport should now be closed.
func (d *driver) dispatchFrame(conn *Conn, frame Frame) bool {
	switch frame.Opcode {
	case OpPing:
		conn.SendFrame(OpPong, frame.Payload, 0)
		if d.srv.metrics != nil {
			d.srv.metrics.frameSent(OpPong)
		}
		return false

	case OpPong:
		conn.missedHeartbeats.Store(0)
		return false

	case OpClose:
		status, reason, ok := ParseCloseStatus(frame.Payload)
		if !ok {
			status = CloseProtocolError
			reason = ""
		}
		conn.closeRecvd.Store(true)
		// SendFrame itself latches closeSent (§13 OQ2), so a Close already
		// sent (e.g. application-initiated) is silently skipped here rather
		// than double-sent.
		if conn.SendFrame(OpClose, CloseStatusPayload(status, reason), 0) && d.srv.metrics != nil {
			d.srv.metrics.frameSent(OpClose)
		}
		return true

	case OpText, OpBinary:
		if conn.onFrame != nil {
			payload := frame.Payload
			if frame.Compressed {
				var pd permessageDeflate
				inflated, err := pd.DecompressPayload(payload)
				if err != nil {
					d.protocolError(conn)
					return true
				}
				payload = inflated
			}
			safeCall(func() { conn.onFrame(Frame{Opcode: frame.Opcode, Payload: payload}) })
		}
		return false
	}
	return false
}

// protocolError implements §7's protocol-violation path: send a Close frame
// with a protocol-error status if the transport still allows it, then let
// the caller tear the connection down.
func (d *driver) protocolError(conn *Conn) {
	if d.srv.metrics != nil {
		d.srv.metrics.protocolError()
	}
	if conn.SendFrame(OpClose, CloseStatusPayload(CloseProtocolError, ""), 0) && d.srv.metrics != nil {
		d.srv.metrics.frameSent(OpClose)
	}
}

func (d *driver) AfterWrite(conn *Conn) {}

func (d *driver) OnClose(conn *Conn) {
	d.srv.upgradeMu.RLock()
	onDisconnect := d.srv.onDisconnect
	d.srv.upgradeMu.RUnlock()
	if onDisconnect != nil && conn.httpState == HTTPUpgraded {
		safeCall(func() { onDisconnect(conn) })
	}
}

func (d *driver) OnError(conn *Conn, events EventSet) bool {
	return false
}
