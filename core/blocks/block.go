// Package blocks implements the five block variants and the sideband
// metadata the ledger attaches to each block on admission, as a tagged
// sum with an exhaustive switch rather than an inheritance tree.
package blocks

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
)

// Type tags a block's on-wire variant.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeOpen
	TypeSend
	TypeReceive
	TypeChange
	TypeState
)

func (t Type) String() string {
	switch t {
	case TypeOpen:
		return "open"
	case TypeSend:
		return "send"
	case TypeReceive:
		return "receive"
	case TypeChange:
		return "change"
	case TypeState:
		return "state"
	default:
		return "invalid"
	}
}

// Details classifies a state block's effect, computed once at admission
// and carried in the Sideband.
type Details struct {
	Epoch     epoch.Epoch
	IsSend    bool
	IsReceive bool
	IsEpoch   bool
}

// Sideband is the ledger-computed metadata attached to a block at
// admission. It is immutable once written and is never covered by the
// block's own signature.
type Sideband struct {
	Successor   types.BlockHash
	Account     types.Account // populated for non-state and non-open blocks
	Balance     types.Amount
	Height      uint64
	Timestamp   uint64
	Details     Details
	SourceEpoch epoch.Epoch
}

// Block is the tagged-sum union of the five on-chain block variants. Only
// the fields relevant to Type are meaningful; callers should switch on
// Type (or use the Variant-specific accessor helpers below) rather than
// reading fields whose variant does not apply, matching the exhaustive
// match the reference implementation performs over its block
// inheritance tree.
type Block struct {
	Type Type

	// Open
	Account        types.Account
	Source         types.BlockHash
	Representative types.Account

	// Send / Receive / Change / common previous-chaining field
	Previous types.BlockHash

	// Send
	Destination types.Account
	Balance     types.Amount

	// State (superset: Account, Previous, Representative, Balance already
	// declared above; Link is state-specific)
	Link types.Link

	Signature types.Signature
	Work      types.WorkNonce

	// Sideband is populated by the ledger at admission; it is not part of
	// the block's signed content and MUST be nil until then.
	Sideband *Sideband
}

// Root returns the election identity for this block: the account for an
// open block, the previous hash otherwise.
func (b *Block) Root() types.Root {
	if b.Type == TypeOpen {
		return b.Account
	}
	return b.Previous
}

// QualifiedRoot returns the (root, previous) pair uniquely identifying
// the election this block belongs to, independent of content.
func (b *Block) QualifiedRoot() types.QualifiedRoot {
	return types.QualifiedRoot{Root: b.Root(), Previous: b.Previous}
}

// errInvalidType is returned by Hash when Type is not one of the five
// known variants.
var errInvalidType = errors.New("blocks: invalid block type")

// Hash computes the Blake2b-256 digest of the block's canonical signed
// content, using each variant's own field list.
func (b *Block) Hash() (types.BlockHash, error) {
	switch b.Type {
	case TypeOpen:
		return types.Blake2b256(b.Source[:], b.Representative[:], b.Account[:]), nil
	case TypeSend:
		return types.Blake2b256(b.Previous[:], b.Destination[:], balanceBytes(b.Balance)), nil
	case TypeReceive:
		return types.Blake2b256(b.Previous[:], b.Source[:]), nil
	case TypeChange:
		return types.Blake2b256(b.Previous[:], b.Representative[:]), nil
	case TypeState:
		return types.Blake2b256(
			stateBlockPreamble[:],
			b.Account[:],
			b.Previous[:],
			b.Representative[:],
			balanceBytes(b.Balance),
			b.Link[:],
		), nil
	default:
		return types.Hash32{}, errInvalidType
	}
}

// stateBlockPreamble is a fixed 32-byte prefix folded into every state
// block's hash, so a state block can never collide with a pre-state
// block of a different variant that happens to share the same field
// bytes. It is all-0x01 bytes, matching the reference implementation's
// convention of a distinct "state block" HashTypeConstant.
var stateBlockPreamble = func() (out [32]byte) {
	for i := range out {
		out[i] = 1
	}
	return out
}()

func balanceBytes(a types.Amount) []byte {
	b := a.Bytes16()
	return b[:]
}

// Link types used by State blocks to distinguish what they do when the
// classifier needs an explicit constant (epoch tags are looked up via
// the epoch registry instead).
var ZeroLink = types.Link{}

// stateDelta classifies the direction of a state block's balance change
// against its predecessor, used by the ledger classifier.
type stateDelta int

const (
	deltaUnchanged stateDelta = iota
	deltaIncrease
	deltaDecrease
)

func compareBalance(prev, cur types.Amount) stateDelta {
	switch prev.Cmp(cur) {
	case 0:
		return deltaUnchanged
	case -1:
		return deltaIncrease
	default:
		return deltaDecrease
	}
}

// ClassifyState reports whether a state block (given the previous
// account balance, or zero for a first block) is acting as a send,
// receive, change or epoch block. isEpochSigner must be true iff the
// block's signature was produced by the registered epoch signer for the
// epoch the link names.
func ClassifyState(b *Block, prevBalance types.Amount, isEpochSigner bool) (Details, stateDelta) {
	delta := compareBalance(prevBalance, b.Balance)
	d := Details{}
	switch {
	case isEpochSigner && delta == deltaUnchanged:
		d.IsEpoch = true
	case delta == deltaDecrease:
		d.IsSend = true
	case delta == deltaIncrease && !b.Link.IsZero():
		d.IsReceive = true
	default:
		// everything else is reported as a change: an unchanged balance
		// without the epoch signer, or an increase with a zero link (which
		// the ledger then rejects as a balance mismatch).
	}
	return d, delta
}

// VerifySignature checks the block's Ed25519 signature against signer,
// where signer is the account that owns the chain this block extends
// (the block's own Account field for Open/State, or the chain owner
// resolved from the previous block for Send/Receive/Change). The
// signed message is the block's own hash, not its pre-signature
// content.
func (b *Block) VerifySignature(signer types.Account) (bool, error) {
	h, err := b.Hash()
	if err != nil {
		return false, err
	}
	return types.Verify(signer, h[:], b.Signature), nil
}

// little-endian helpers used by the sideband/wire codec (kept here so
// block and sideband (de)serialization share one encoding vocabulary).
func putUint64(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

func getUint64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}
