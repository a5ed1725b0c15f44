package types

import "encoding/binary"

// finalBit is bit 63 of a vote timestamp: once set, the vote is an
// irrevocable commitment and may never be superseded by a vote for a
// different hash at the same root.
const finalBit = uint64(1) << 63

// Timestamp packs a vote's logical-clock + finality encoding: bits
// [0..62] are a strictly increasing logical clock per (representative,
// root); bit 63 is a sticky "this is final" flag.
type Timestamp uint64

// NewTimestamp builds a non-final timestamp from a logical clock value.
func NewTimestamp(clock uint64) Timestamp {
	return Timestamp(clock &^ finalBit)
}

// Final marks the timestamp as irrevocable.
func (t Timestamp) Final() Timestamp {
	return t | Timestamp(finalBit)
}

// IsFinal reports whether bit 63 is set.
func (t Timestamp) IsFinal() bool {
	return uint64(t)&finalBit != 0
}

// Clock returns the logical-clock bits with the final bit cleared, the
// value that MUST be used for ordering comparisons.
func (t Timestamp) Clock() uint64 {
	return uint64(t) &^ finalBit
}

// Less orders two timestamps by clock value only; the final bit never
// participates in ordering.
func (t Timestamp) Less(other Timestamp) bool {
	return t.Clock() < other.Clock()
}

// Vote is a representative's timestamped endorsement of one or more block
// hashes at a root. Vote payloads on the wire may carry a full block (for
// a first-seen publish) or a list of hashes;
// the core engine only ever needs the hash list, so Hashes is always
// populated by the codec regardless of wire representation.
type Vote struct {
	Account   Account
	Timestamp Timestamp
	Signature Signature
	Hashes    []BlockHash
}

// SigningData returns the canonical byte sequence the vote signature
// covers: a fixed domain prefix, the timestamp, then each hash in order.
// Matches the reference implementation's vote::hash digest composition.
func (v *Vote) SigningData() []byte {
	buf := make([]byte, 0, 8+len(v.Hashes)*Hash32Size+32)
	buf = append(buf, []byte("vote message")...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(v.Timestamp))
	buf = append(buf, ts[:]...)
	for _, h := range v.Hashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

// Hash returns the Blake2b-256 digest used to uniquify votes in the vote
// pool: structurally identical votes collapse to the same hash and
// therefore the same pooled entry.
func (v *Vote) Hash() Hash32 {
	return Blake2b256(v.SigningData(), v.Account[:])
}

// Verify checks the vote's Ed25519 signature against its signing data.
func (v *Vote) Verify() bool {
	return Verify(v.Account, v.SigningData(), v.Signature)
}
