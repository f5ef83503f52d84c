package wscore

import (
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// websocketGUID is the RFC 6455 magic string appended to the client key
// before hashing to produce Sec-WebSocket-Accept (§4.I.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ComputeAccept hashes clientKey per RFC 6455 §4.2.2. Verified against the
// seed test vector: key "dGhlIHNhbXBsZSBub25jZQ==" yields
// "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=".
func ComputeAccept(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HandshakeOutcome is the result of validating and negotiating an upgrade
// request (§4.I).
type HandshakeOutcome struct {
	Accepted bool
	Status   int // meaningful only when !Accepted
	Protocol string
	Accept   string
	Deflate  bool // client offered permessage-deflate and the server allows it (§6, §11)
}

// Upgrader validates an upgrade request against the registered subprotocol
// list and negotiates the Sec-WebSocket-Accept response (§4.I). The zero
// value has no default protocol; use RegisterDefaultProtocol to register one.
type Upgrader struct {
	protocols      []string
	defaultUnnamed string // name of the default protocol; may be ""
	hasDefault     bool   // true once RegisterDefaultProtocol has been called
	allowDeflate   bool   // server-side opt-in to negotiating permessage-deflate
}

func NewUpgrader() *Upgrader { return &Upgrader{} }

// AllowDeflate opts the upgrader into negotiating permessage-deflate when a
// connecting client offers it via Sec-WebSocket-Extensions (§6: "the core
// passes the extension list through to the subprotocol plugin, which may
// opt in to compression"; here the core itself is the opt-in point since
// wscore owns the built-in driver, §11).
func (u *Upgrader) AllowDeflate(allow bool) { u.allowDeflate = allow }

// RegisterProtocol adds name to the set of subprotocols this server
// understands, in priority order (first registered wins on ties).
func (u *Upgrader) RegisterProtocol(name string) {
	u.protocols = append(u.protocols, name)
}

// RegisterDefaultProtocol sets the "unnamed" fallback subprotocol used when
// the client's CSV list matches nothing registered (§4.I.2).
func (u *Upgrader) RegisterDefaultProtocol(name string) {
	u.defaultUnnamed = name
	u.hasDefault = true
}

// Negotiate validates method/Upgrade/Connection/key/version per §4.I.1 and
// §6, selects a subprotocol per §4.I.2, and computes the accept value.
func (u *Upgrader) Negotiate(req *ParsedRequest) HandshakeOutcome {
	if req.Method != "GET" {
		return HandshakeOutcome{Status: 400}
	}
	if !httpguts.HeaderValuesContainsToken(req.Header.Values("Upgrade"), "websocket") {
		return HandshakeOutcome{Status: 400}
	}
	if !httpguts.HeaderValuesContainsToken(req.Header.Values("Connection"), "Upgrade") {
		return HandshakeOutcome{Status: 400}
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if !isValidKey(key) {
		return HandshakeOutcome{Status: 400}
	}
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return HandshakeOutcome{Status: 400}
	}

	proto, ok := u.selectProtocol(req.Header.Get("Sec-WebSocket-Protocol"))
	if !ok {
		return HandshakeOutcome{Status: 400}
	}

	return HandshakeOutcome{
		Accepted: true,
		Protocol: proto,
		Accept:   ComputeAccept(key),
		Deflate:  u.allowDeflate && offersDeflate(req.Header.Get("Sec-WebSocket-Extensions")),
	}
}

// offersDeflate reports whether the client's CSV Sec-WebSocket-Extensions
// list names the "permessage-deflate" token (possibly followed by
// parameters after a ';', which wscore does not negotiate individually —
// it always deflates with default window/no-context-takeover settings).
func offersDeflate(csv string) bool {
	for _, ext := range strings.Split(csv, ",") {
		name := strings.TrimSpace(ext)
		if semi := strings.IndexByte(name, ';'); semi >= 0 {
			name = strings.TrimSpace(name[:semi])
		}
		if strings.EqualFold(name, "permessage-deflate") {
			return true
		}
	}
	return false
}

// selectProtocol implements §4.I.2: first registered protocol matching the
// client's CSV list wins; with no match, the default "unnamed" protocol (if
// any) is used; otherwise negotiation fails.
func (u *Upgrader) selectProtocol(csv string) (string, bool) {
	if csv == "" {
		if u.hasDefault {
			return u.defaultUnnamed, true
		}
		if len(u.protocols) == 0 {
			return "", true // no protocols registered at all: plain upgrade
		}
		return "", false
	}

	requested := make(map[string]bool)
	for _, p := range strings.Split(csv, ",") {
		requested[strings.TrimSpace(p)] = true
	}
	for _, p := range u.protocols {
		if requested[p] {
			return p, true
		}
	}
	if u.hasDefault {
		return u.defaultUnnamed, true
	}
	return "", false
}

func isValidKey(key string) bool {
	if len(key) != 24 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(decoded) == 16
}

// BroadcastTargets performs the O(log n) lookups described in §4.I for a
// non-empty target list, deduplicating repeated handles so broadcast
// idempotence (§8 invariant 5) holds even when the caller passes
// duplicates.
func BroadcastTargets(reg *Registry, targets []Handle) []*Conn {
	if len(targets) == 0 {
		return nil
	}
	sorted := append([]Handle(nil), targets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make([]*Conn, 0, len(sorted))
	var last Handle
	first := true
	for _, h := range sorted {
		if !first && h == last {
			continue
		}
		first, last = false, h
		if c := reg.Find(h); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastSendFunc is the primitive a Server supplies to actually hand an
// encoded frame to a connection's async engine (direct send, caller-timeout
// semantics per §4.I).
type BroadcastSendFunc func(c *Conn, encoded []byte, timeoutMs int) bool

// Broadcast implements §4.I: encodes frame once with mask=0, fans it out
// to every matched connection still in WebSocket state with no close sent
// yet, and returns the count of successful sends. An empty targets slice
// means "all connections".
func Broadcast(reg *Registry, opcode Opcode, payload []byte, targets []Handle, timeoutMs int, send BroadcastSendFunc) int {
	encoded := EncodeFrame(opcode, payload, false)

	var candidates []*Conn
	if len(targets) == 0 {
		candidates = reg.Snapshot()
	} else {
		candidates = BroadcastTargets(reg, targets)
	}

	sent := 0
	for _, c := range candidates {
		if !c.IsValid() || c.wsState != WSRun || c.closeSent.Load() {
			continue
		}
		if send(c, encoded, timeoutMs) {
			sent++
		}
	}
	return sent
}
