package wscore

import jsoniter "github.com/json-iterator/go"

// jsonAPI mirrors the teacher's use of json-iterator as a drop-in,
// faster-than-encoding/json codec (blaze's context.go uses the same
// jsoniter.ConfigCompatibleWithStandardLibrary for request/response bodies;
// here it serves the equivalent convenience on top of Text/Binary frames
// carrying JSON payloads).
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// SendJSON marshals v and hands the raw JSON bytes to send, which is
// responsible for framing and transmitting them (for example a closure over
// Conn.SendFrame with OpText). send's boolean result is not reported; the
// returned error covers marshalling only.
func SendJSON(v any, send func(payload []byte) bool) error {
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		return err
	}
	send(data)
	return nil
}

// DecodeJSONFrame unmarshals a received Text frame's payload into v.
func DecodeJSONFrame(frame Frame, v any) error {
	return jsonAPI.Unmarshal(frame.Payload, v)
}
