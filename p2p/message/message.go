package message

import "github.com/scendere/scendere-node/p2p/telemetry"

// Message is a decoded wire message: a header plus whichever typed
// payload Header.Type selects.
type Message struct {
	Header  Header
	Payload interface{}
}

// TelemetryReq marks a telemetry_req message; it carries no payload
// beyond the header, matching the reference node's fire_request_message.
type TelemetryReq struct{}

// Decode parses a full wire message (header + payload) from raw.
func Decode(raw []byte) (Message, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return Message{}, err
	}
	body := raw[HeaderSize:]
	var payload interface{}
	switch h.Type {
	case TypeKeepalive:
		payload, err = DecodeKeepalive(body)
	case TypePublish:
		payload, err = DecodePublish(body)
	case TypeConfirmReq:
		payload, err = DecodeConfirmReq(h, body)
	case TypeConfirmAck:
		payload, err = DecodeConfirmAck(h, body)
	case TypeTelemetryReq:
		payload = TelemetryReq{}
	case TypeTelemetryAck:
		var data telemetry.Data
		data, err = telemetry.Decode(body)
		payload = data
	default:
		payload = body
	}
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Payload: payload}, nil
}
