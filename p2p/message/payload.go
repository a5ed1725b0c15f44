package message

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/p2p/telemetry"
)

var errShortBuffer = errors.New("message: short buffer")

// Publish announces a newly seen block, unsolicited.
type Publish struct {
	Block *blocks.Block
}

// Encode returns the header+payload wire form of p.
func (p *Publish) Encode(version uint8) ([]byte, error) {
	body, err := p.Block.Marshal()
	if err != nil {
		return nil, err
	}
	h := Header{VersionMax: version, VersionUsing: version, VersionMin: version, Type: TypePublish}.
		WithBlockType(uint8(p.Block.Type))
	enc := h.Encode()
	return append(enc[:], body...), nil
}

// DecodePublish parses a publish payload (the header already consumed).
func DecodePublish(body []byte) (*Publish, error) {
	b, err := blocks.Unmarshal(body)
	if err != nil {
		return nil, err
	}
	return &Publish{Block: b}, nil
}

// ConfirmReq asks a peer to vote on one or more blocks. A single-block
// request embeds the full block (mirroring Publish); a batched request
// carries only (root, hash) pairs the peer is expected to already know.
type ConfirmReq struct {
	Block    *blocks.Block
	Pairs    []RootHash
}

// RootHash is one (hash, root) pair referenced by a batched confirm_req.
type RootHash struct {
	Hash types.BlockHash
	Root types.Root
}

// Encode returns the header+payload wire form of r.
func (r *ConfirmReq) Encode(version uint8) ([]byte, error) {
	h := Header{VersionMax: version, VersionUsing: version, VersionMin: version, Type: TypeConfirmReq}
	if r.Block != nil {
		h = h.WithBlockType(uint8(r.Block.Type))
		body, err := r.Block.Marshal()
		if err != nil {
			return nil, err
		}
		enc := h.Encode()
		return append(enc[:], body...), nil
	}
	h = h.WithCount(len(r.Pairs))
	body := make([]byte, 0, len(r.Pairs)*2*types.Hash32Size)
	for _, p := range r.Pairs {
		body = append(body, p.Hash[:]...)
		body = append(body, p.Root[:]...)
	}
	enc := h.Encode()
	return append(enc[:], body...), nil
}

// DecodeConfirmReq parses a confirm_req payload given the header that
// preceded it.
func DecodeConfirmReq(h Header, body []byte) (*ConfirmReq, error) {
	if h.Count() == 0 {
		b, err := blocks.Unmarshal(body)
		if err != nil {
			return nil, err
		}
		return &ConfirmReq{Block: b}, nil
	}
	n := h.Count()
	if len(body) < n*2*types.Hash32Size {
		return nil, errShortBuffer
	}
	pairs := make([]RootHash, n)
	for i := 0; i < n; i++ {
		off := i * 2 * types.Hash32Size
		copy(pairs[i].Hash[:], body[off:off+types.Hash32Size])
		copy(pairs[i].Root[:], body[off+types.Hash32Size:off+2*types.Hash32Size])
	}
	return &ConfirmReq{Pairs: pairs}, nil
}

// ConfirmAck carries a signed vote: {account: 32, signature: 64,
// timestamp: 8, hashes: 32*count}.
type ConfirmAck struct {
	Vote *types.Vote
}

// Encode returns the header+payload wire form of a.
func (a *ConfirmAck) Encode(version uint8) ([]byte, error) {
	if len(a.Vote.Hashes) > MaxConfirmAckHashes {
		return nil, errors.New("message: confirm_ack exceeds max hashes")
	}
	h := Header{VersionMax: version, VersionUsing: version, VersionMin: version, Type: TypeConfirmAck}.
		WithCount(len(a.Vote.Hashes))
	body := make([]byte, 0, types.Hash32Size+types.SignatureSize+8+len(a.Vote.Hashes)*types.Hash32Size)
	body = append(body, a.Vote.Account[:]...)
	body = append(body, a.Vote.Signature[:]...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(a.Vote.Timestamp))
	body = append(body, ts[:]...)
	for _, h2 := range a.Vote.Hashes {
		body = append(body, h2[:]...)
	}
	enc := h.Encode()
	return append(enc[:], body...), nil
}

// DecodeConfirmAck parses a confirm_ack payload given its header.
func DecodeConfirmAck(h Header, body []byte) (*ConfirmAck, error) {
	const fixed = types.Hash32Size + types.SignatureSize + 8
	n := h.Count()
	if len(body) < fixed+n*types.Hash32Size {
		return nil, errShortBuffer
	}
	v := &types.Vote{}
	copy(v.Account[:], body[0:types.Hash32Size])
	copy(v.Signature[:], body[types.Hash32Size:types.Hash32Size+types.SignatureSize])
	v.Timestamp = types.Timestamp(binary.LittleEndian.Uint64(body[types.Hash32Size+types.SignatureSize : fixed]))
	v.Hashes = make([]types.BlockHash, n)
	for i := 0; i < n; i++ {
		off := fixed + i*types.Hash32Size
		copy(v.Hashes[i][:], body[off:off+types.Hash32Size])
	}
	return &ConfirmAck{Vote: v}, nil
}

// Endpoint is one peer address carried by a Keepalive: a 16-byte IPv6
// address (v4 addresses are mapped) plus a 2-byte port.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// KeepaliveEndpoints is the fixed number of peer addresses a keepalive
// message gossips.
const KeepaliveEndpoints = 8

const endpointSize = 16 + 2

// Keepalive is a periodic liveness/peer-exchange message carrying up to
// KeepaliveEndpoints known peer addresses.
type Keepalive struct {
	Peers [KeepaliveEndpoints]Endpoint
}

// Encode returns the header+payload wire form of k.
func (k *Keepalive) Encode(version uint8) []byte {
	h := Header{VersionMax: version, VersionUsing: version, VersionMin: version, Type: TypeKeepalive}
	enc := h.Encode()
	out := append(enc[:], make([]byte, KeepaliveEndpoints*endpointSize)...)
	for i, ep := range k.Peers {
		off := HeaderSize + i*endpointSize
		ip16 := ep.IP.To16()
		if ip16 == nil {
			ip16 = make(net.IP, 16)
		}
		copy(out[off:off+16], ip16)
		binary.LittleEndian.PutUint16(out[off+16:off+endpointSize], ep.Port)
	}
	return out
}

// DecodeKeepalive parses a keepalive payload (the header already
// consumed).
func DecodeKeepalive(body []byte) (*Keepalive, error) {
	if len(body) < KeepaliveEndpoints*endpointSize {
		return nil, errShortBuffer
	}
	var k Keepalive
	for i := range k.Peers {
		off := i * endpointSize
		ip := make(net.IP, 16)
		copy(ip, body[off:off+16])
		k.Peers[i] = Endpoint{
			IP:   ip,
			Port: binary.LittleEndian.Uint16(body[off+16 : off+endpointSize]),
		}
	}
	return &k, nil
}

// EncodeTelemetryReq returns the header-only wire form of a
// telemetry_req: it carries no payload beyond asking the peer to reply
// with a telemetry_ack.
func EncodeTelemetryReq(version uint8) []byte {
	h := Header{VersionMax: version, VersionUsing: version, VersionMin: version, Type: TypeTelemetryReq}
	enc := h.Encode()
	return enc[:]
}

// EncodeTelemetryAck returns the header+payload wire form of a signed
// telemetry Data snapshot.
func EncodeTelemetryAck(version uint8, data telemetry.Data) []byte {
	h := Header{VersionMax: version, VersionUsing: version, VersionMin: version, Type: TypeTelemetryAck}
	enc := h.Encode()
	return append(enc[:], data.Encode()...)
}
