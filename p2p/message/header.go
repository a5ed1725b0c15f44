// Package message implements the node's wire protocol: a fixed 8-byte
// little-endian header followed by a type-specific payload, grounded on
// the reference node's network message framing.
package message

import (
	"encoding/binary"
	"errors"
)

// Magic identifies this network on the wire; a peer presenting a
// different magic is rejected before its header is otherwise parsed.
var Magic = [2]byte{'S', 'N'}

// Type tags which payload follows the header.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeKeepalive
	TypePublish
	TypeConfirmReq
	TypeConfirmAck
	TypeBulkPull
	TypeBulkPush
	TypeFrontierReq
	TypeTelemetryReq
	TypeTelemetryAck
)

func (t Type) String() string {
	switch t {
	case TypeKeepalive:
		return "keepalive"
	case TypePublish:
		return "publish"
	case TypeConfirmReq:
		return "confirm_req"
	case TypeConfirmAck:
		return "confirm_ack"
	case TypeBulkPull:
		return "bulk_pull"
	case TypeBulkPush:
		return "bulk_push"
	case TypeFrontierReq:
		return "frontier_req"
	case TypeTelemetryReq:
		return "telemetry_req"
	case TypeTelemetryAck:
		return "telemetry_ack"
	default:
		return "invalid"
	}
}

// HeaderSize is the fixed on-wire size of Header, per the wire protocol's
// 8-byte header.
const HeaderSize = 8

// extension bit layout within Header.Extensions:
//   bits 0-3:  block type carried by a publish/confirm_req payload
//   bits 8-15: hash count carried by a confirm_ack payload (max 255)
const (
	extBlockTypeMask = 0x000f
	extCountShift    = 8
	extCountMask     = 0xff00
)

// MaxConfirmAckHashes bounds how many hashes a single confirm_ack may
// bundle; Extensions' count field is 8 bits wide.
const MaxConfirmAckHashes = 255

var (
	errTruncatedHeader = errors.New("message: truncated header")
	errBadMagic        = errors.New("message: bad network magic")
)

// Header is the fixed 8-byte preamble of every wire message.
type Header struct {
	VersionMax   uint8
	VersionUsing uint8
	VersionMin   uint8
	Type         Type
	Extensions   uint16
}

// BlockType returns the block-type extension nibble.
func (h Header) BlockType() uint8 {
	return uint8(h.Extensions & extBlockTypeMask)
}

// WithBlockType returns a copy of h with its block-type extension set.
func (h Header) WithBlockType(t uint8) Header {
	h.Extensions = (h.Extensions &^ extBlockTypeMask) | uint16(t&0x0f)
	return h
}

// Count returns the confirm_ack hash-count extension.
func (h Header) Count() int {
	return int((h.Extensions & extCountMask) >> extCountShift)
}

// WithCount returns a copy of h with its hash-count extension set. Panics
// if count exceeds MaxConfirmAckHashes, a caller bug rather than a wire
// condition.
func (h Header) WithCount(count int) Header {
	if count < 0 || count > MaxConfirmAckHashes {
		panic("message: confirm_ack count out of range")
	}
	h.Extensions = (h.Extensions &^ extCountMask) | (uint16(count) << extCountShift)
	return h
}

// Encode writes h's 8-byte wire form.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0], buf[1] = Magic[0], Magic[1]
	buf[2] = h.VersionMax
	buf[3] = h.VersionUsing
	buf[4] = h.VersionMin
	buf[5] = uint8(h.Type)
	binary.LittleEndian.PutUint16(buf[6:8], h.Extensions)
	return buf
}

// DecodeHeader parses the fixed 8-byte header from the front of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errTruncatedHeader
	}
	if b[0] != Magic[0] || b[1] != Magic[1] {
		return Header{}, errBadMagic
	}
	return Header{
		VersionMax:   b[2],
		VersionUsing: b[3],
		VersionMin:   b[4],
		Type:         Type(b[5]),
		Extensions:   binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}
