package blocks

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
)

// errShortBuffer is returned by Unmarshal when the input is truncated.
var errShortBuffer = errors.New("blocks: short buffer")

// Marshal serializes a block's signed content (not including Sideband)
// in the fixed per-variant layout used on the wire for publish/
// confirm_req payloads: variant-specific field order, followed by
// signature and work; balances are big-endian, the work nonce
// little-endian.
func (b *Block) Marshal() ([]byte, error) {
	var body []byte
	switch b.Type {
	case TypeOpen:
		body = concat(b.Source[:], b.Representative[:], b.Account[:])
	case TypeSend:
		body = concat(b.Previous[:], b.Destination[:], balanceBytes(b.Balance))
	case TypeReceive:
		body = concat(b.Previous[:], b.Source[:])
	case TypeChange:
		body = concat(b.Previous[:], b.Representative[:])
	case TypeState:
		body = concat(b.Account[:], b.Previous[:], b.Representative[:], balanceBytes(b.Balance), b.Link[:])
	default:
		return nil, errInvalidType
	}
	out := make([]byte, 0, 1+len(body)+types.SignatureSize+8)
	out = append(out, byte(b.Type))
	out = append(out, body...)
	out = append(out, b.Signature[:]...)
	var work [8]byte
	binary.LittleEndian.PutUint64(work[:], uint64(b.Work))
	out = append(out, work[:]...)
	return out, nil
}

// Unmarshal parses the wire encoding Marshal produces.
func Unmarshal(data []byte) (*Block, error) {
	if len(data) < 1 {
		return nil, errShortBuffer
	}
	b := &Block{Type: Type(data[0])}
	rest := data[1:]

	var bodyLen int
	switch b.Type {
	case TypeOpen:
		bodyLen = 32 * 3
	case TypeSend:
		bodyLen = 32*2 + 16
	case TypeReceive, TypeChange:
		bodyLen = 32 * 2
	case TypeState:
		bodyLen = 32*4 + 16
	default:
		return nil, errInvalidType
	}
	if len(rest) < bodyLen+types.SignatureSize+8 {
		return nil, errShortBuffer
	}
	body := rest[:bodyLen]
	rest = rest[bodyLen:]

	switch b.Type {
	case TypeOpen:
		copy(b.Source[:], body[0:32])
		copy(b.Representative[:], body[32:64])
		copy(b.Account[:], body[64:96])
	case TypeSend:
		copy(b.Previous[:], body[0:32])
		copy(b.Destination[:], body[32:64])
		var bal [16]byte
		copy(bal[:], body[64:80])
		b.Balance = types.AmountFromBig16(bal)
	case TypeReceive:
		copy(b.Previous[:], body[0:32])
		copy(b.Source[:], body[32:64])
	case TypeChange:
		copy(b.Previous[:], body[0:32])
		copy(b.Representative[:], body[32:64])
	case TypeState:
		copy(b.Account[:], body[0:32])
		copy(b.Previous[:], body[32:64])
		copy(b.Representative[:], body[64:96])
		var bal [16]byte
		copy(bal[:], body[96:112])
		b.Balance = types.AmountFromBig16(bal)
		copy(b.Link[:], body[112:144])
	}

	copy(b.Signature[:], rest[:types.SignatureSize])
	rest = rest[types.SignatureSize:]
	b.Work = types.WorkNonce(binary.LittleEndian.Uint64(rest[:8]))
	return b, nil
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// sidebandEncodedLen returns the fixed sideband encoding length for a
// block type: open and state blocks omit account (carried by the block
// itself), so they encode 32 fewer bytes than the legacy send, receive
// and change variants. Height is encoded for every type.
func sidebandEncodedLen(t Type) int {
	// successor(32) + balance(16) + height(8) + timestamp(8) + details(1) + source_epoch(1)
	const common = 32 + 16 + 8 + 8 + 1 + 1
	if t == TypeOpen || t == TypeState {
		return common
	}
	return common + 32 // + account, for legacy non-state/open blocks
}

// MarshalSideband serializes sideband metadata using a block-type-
// dependent layout.
func MarshalSideband(t Type, sb *Sideband) []byte {
	out := make([]byte, 0, sidebandEncodedLen(t))
	out = append(out, sb.Successor[:]...)
	if t != TypeOpen && t != TypeState {
		out = append(out, sb.Account[:]...)
	}
	out = append(out, balanceBytes(sb.Balance)...)
	var height, timestamp [8]byte
	putUint64(height[:], sb.Height)
	putUint64(timestamp[:], sb.Timestamp)
	out = append(out, height[:]...)
	out = append(out, timestamp[:]...)
	out = append(out, detailsByte(sb.Details))
	out = append(out, byte(sb.SourceEpoch))
	return out
}

// UnmarshalSideband parses the layout MarshalSideband produces.
func UnmarshalSideband(t Type, data []byte) (*Sideband, error) {
	sb := &Sideband{}
	if len(data) < 32 {
		return nil, errShortBuffer
	}
	copy(sb.Successor[:], data[:32])
	data = data[32:]
	if t != TypeOpen && t != TypeState {
		if len(data) < 32 {
			return nil, errShortBuffer
		}
		copy(sb.Account[:], data[:32])
		data = data[32:]
	}
	if len(data) < 16+8+8+1+1 {
		return nil, errShortBuffer
	}
	var bal [16]byte
	copy(bal[:], data[:16])
	sb.Balance = types.AmountFromBig16(bal)
	data = data[16:]
	sb.Height = getUint64(data[:8])
	data = data[8:]
	sb.Timestamp = getUint64(data[:8])
	data = data[8:]
	sb.Details = detailsFromByte(data[0])
	sb.SourceEpoch = epoch.Epoch(data[1])
	return sb, nil
}

func detailsByte(d Details) byte {
	var out byte
	out |= uint8(d.Epoch)
	if d.IsSend {
		out |= 1 << 5
	}
	if d.IsReceive {
		out |= 1 << 6
	}
	if d.IsEpoch {
		out |= 1 << 7
	}
	return out
}

func detailsFromByte(v byte) Details {
	return Details{
		Epoch:     epoch.Epoch(v & 0x1f),
		IsSend:    v&(1<<5) != 0,
		IsReceive: v&(1<<6) != 0,
		IsEpoch:   v&(1<<7) != 0,
	}
}
