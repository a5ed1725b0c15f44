// Package work implements anti-spam proof-of-work validation and
// difficulty math. Generation (finding a nonce) is out of scope — GPU
// work generation is treated as an external collaborator; this package
// only validates nonces and converts between difficulty and multiplier
// space, grounded on original_source/scendere/lib/work.hpp and the
// difficulty test vectors in original_source/scendere/core_test/difficulty.cpp.
package work

import (
	"encoding/binary"
	"math"

	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"golang.org/x/crypto/blake2b"
)

// BlockDetails classifies a block for threshold lookup: its epoch, and
// whether it is a send, a receive/open, or an epoch upgrade.
type BlockDetails struct {
	Epoch     epoch.Epoch
	IsSend    bool
	IsReceive bool
	IsEpoch   bool
}

// Thresholds holds the per-version work difficulty bars. Field names
// mirror the reference work_thresholds struct: base is the epoch_2 (and
// current) floor for non-send/receive blocks, epoch_1/epoch_2 are the
// historical per-upgrade floors for send/change, and epoch_2_receive is
// the lower bar introduced at epoch_2 for receive/open/epoch blocks.
type Thresholds struct {
	Epoch1        uint64
	Epoch2        uint64
	Epoch2Receive uint64
	Base          uint64
	Entry         uint64
}

// Threshold returns the minimum valid difficulty for a block with the
// given details, matching work_thresholds::threshold.
func (t Thresholds) Threshold(d BlockDetails) uint64 {
	switch {
	case d.IsEpoch:
		return t.Epoch2Receive
	case d.IsReceive:
		if d.Epoch >= epoch.Epoch2 {
			return t.Epoch2Receive
		}
		return t.Epoch1
	case d.IsSend:
		if d.Epoch >= epoch.Epoch2 {
			return t.Epoch2
		}
		return t.Epoch1
	default:
		// change block, or any block below epoch_1.
		if d.Epoch >= epoch.Epoch2 {
			return t.Epoch2
		}
		return t.Epoch1
	}
}

// ThresholdBase is the network's current floor difficulty (epoch_2).
func (t Thresholds) ThresholdBase() uint64 {
	return t.Base
}

// DevThresholds are the low, fast-to-mine thresholds used by the dev/test
// network constants, matching scendere::dev::network_params.work in the
// reference test fixtures exactly so ported test vectors stay valid.
func DevThresholds() Thresholds {
	return Thresholds{
		Epoch1:        0xffffffc000000000,
		Epoch2:        0xfffffff800000000,
		Epoch2Receive: 0xfffffe0000000000,
		Base:          0xfffffff800000000,
		Entry:         0xffffffc000000000,
	}
}

// Value computes Blake2b(root‖nonce_LE).first8_as_LE, the raw work
// output compared against a threshold.
func Value(root types.Root, nonce types.WorkNonce) uint64 {
	h, err := blake2b.New(8, nil)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(root[:])
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], uint64(nonce))
	_, _ = h.Write(nonceBytes[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// Valid reports whether nonce satisfies the threshold for root.
func Valid(root types.Root, nonce types.WorkNonce, threshold uint64) bool {
	return Value(root, nonce) >= threshold
}

// ToMultiplier converts a difficulty into a multiplier of base:
// to_multiplier(difficulty, base) = (max - base) / (max - difficulty).
// Undefined (and MUST be rejected) when difficulty equals the maximum
// u64, since that would divide by zero.
func ToMultiplier(difficulty, base uint64) (float64, bool) {
	if difficulty == math.MaxUint64 {
		return 0, false
	}
	num := float64(math.MaxUint64 - base)
	den := float64(math.MaxUint64 - difficulty)
	return num / den, true
}

// FromMultiplier converts a multiplier back into a difficulty, saturating
// at 0 and math.MaxUint64 instead of overflowing. The result is exact for
// the multipliers ToMultiplier produces: this is a true inverse, not
// just an approximation, up to float64 rounding.
func FromMultiplier(multiplier float64, base uint64) uint64 {
	if multiplier <= 0 {
		return 0
	}
	span := float64(math.MaxUint64 - base)
	scaled := span / multiplier
	if scaled >= float64(math.MaxUint64) {
		return 0
	}
	return math.MaxUint64 - uint64(scaled)
}
