package types

import (
	"crypto/ed25519"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Blake2b256 hashes the concatenation of parts with a 256-bit Blake2b
// digest, the canonical hash function for every block-lattice object.
func Blake2b256(parts ...[]byte) Hash32 {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key only fails on bad key length.
		panic(err)
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// Blake2b512 hashes the concatenation of parts with a 512-bit Blake2b
// digest, used for Ed25519 key derivation in the reference wallet design.
func Blake2b512(parts ...[]byte) [64]byte {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Verify checks an Ed25519 signature of msg by account.
func Verify(account Account, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(account[:]), msg, sig[:])
}

// Sign produces an Ed25519 signature of msg using the full 64-byte
// private key (seed||public concatenation, matching crypto/ed25519).
func Sign(priv ed25519.PrivateKey, msg []byte) Signature {
	raw := ed25519.Sign(priv, msg)
	var sig Signature
	copy(sig[:], raw)
	return sig
}

// ErrBadSignature is returned by verification helpers when a signature
// fails Ed25519 verification.
var ErrBadSignature = errors.New("types: bad signature")
