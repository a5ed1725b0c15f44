// Package types defines the fixed-width primitives shared by every
// block-lattice package: accounts, hashes, amounts, signatures and work
// nonces, kept beneath the consensus packages the same way a leaf-level
// primitive package is.
package types

import (
	"encoding/hex"
	"errors"
)

// Hash32Size is the width in bytes of a Blake2b-256 digest.
const Hash32Size = 32

// Hash32 is a 256-bit tagged digest used for accounts, block hashes,
// election roots and links.
type Hash32 [Hash32Size]byte

// Account is the Ed25519 public key identifying a chain.
type Account = Hash32

// BlockHash identifies a single block by its Blake2b-256 digest.
type BlockHash = Hash32

// Root is the election identity: either an open block's account or a
// non-open block's previous hash.
type Root = Hash32

// Link is the state-block link field: a destination account, a source
// block hash, an epoch tag, or the zero hash.
type Link = Hash32

// ZeroHash is the all-zero sentinel hash used for "no value" fields.
var ZeroHash Hash32

// IsZero reports whether h is the all-zero sentinel.
func (h Hash32) IsZero() bool {
	return h == ZeroHash
}

// String renders the hash as lower-case hex.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash32) Bytes() []byte {
	out := make([]byte, Hash32Size)
	copy(out, h[:])
	return out
}

// HashFromBytes builds a Hash32 from a byte slice of exactly Hash32Size.
func HashFromBytes(b []byte) (Hash32, error) {
	var h Hash32
	if len(b) != Hash32Size {
		return h, errors.New("types: invalid hash length")
	}
	copy(h[:], b)
	return h, nil
}

// MarshalJSON encodes the hash as a quoted hex string, the same
// rendering String uses, so a genesis account/representative in a YAML
// config file round-trips the same text an RPC client would see.
func (h Hash32) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses a quoted hex string produced by MarshalJSON.
func (h *Hash32) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	decoded, err := HashFromBytes(b)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// QualifiedRoot uniquely identifies an election independent of block
// content: the root paired with the previous-block hash of the candidate
// that opened the election.
type QualifiedRoot struct {
	Root     Root
	Previous BlockHash
}

// SignatureSize is the width in bytes of an Ed25519 signature.
const SignatureSize = 64

// Signature is a raw Ed25519 signature.
type Signature [SignatureSize]byte

// Bytes returns a copy of the underlying signature bytes.
func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureSize)
	copy(out, s[:])
	return out
}

// MarshalJSON encodes the signature as a quoted hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(s[:]) + `"`), nil
}

// UnmarshalJSON parses a quoted hex string produced by MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	if len(b) != SignatureSize {
		return errors.New("types: invalid signature length")
	}
	copy(s[:], b)
	return nil
}

// WorkNonce is the 64-bit anti-spam proof-of-work solution attached to a
// block or published independently ahead of time.
type WorkNonce uint64
