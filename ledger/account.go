package ledger

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
)

// AccountInfo is the per-account head pointer row: everything needed to
// extend a chain or answer a balance/representative query without
// replaying every block from genesis.
type AccountInfo struct {
	Head           types.BlockHash
	OpenBlock      types.BlockHash
	Representative types.Account
	Balance        types.Amount
	ModifiedTime   uint64
	BlockCount     uint64
	Epoch          epoch.Epoch
}

const accountInfoLen = 32 + 32 + 32 + 16 + 8 + 8 + 1

// MarshalAccountInfo serializes an AccountInfo in its fixed on-disk layout.
func MarshalAccountInfo(info AccountInfo) []byte {
	out := make([]byte, 0, accountInfoLen)
	out = append(out, info.Head[:]...)
	out = append(out, info.OpenBlock[:]...)
	out = append(out, info.Representative[:]...)
	bal := info.Balance.Bytes16()
	out = append(out, bal[:]...)
	var modified, count [8]byte
	binary.LittleEndian.PutUint64(modified[:], info.ModifiedTime)
	binary.LittleEndian.PutUint64(count[:], info.BlockCount)
	out = append(out, modified[:]...)
	out = append(out, count[:]...)
	out = append(out, byte(info.Epoch))
	return out
}

// UnmarshalAccountInfo parses the layout MarshalAccountInfo produces.
func UnmarshalAccountInfo(data []byte) (AccountInfo, error) {
	var info AccountInfo
	if len(data) != accountInfoLen {
		return info, errors.New("ledger: short account info")
	}
	copy(info.Head[:], data[0:32])
	copy(info.OpenBlock[:], data[32:64])
	copy(info.Representative[:], data[64:96])
	var bal [16]byte
	copy(bal[:], data[96:112])
	info.Balance = types.AmountFromBig16(bal)
	info.ModifiedTime = binary.LittleEndian.Uint64(data[112:120])
	info.BlockCount = binary.LittleEndian.Uint64(data[120:128])
	info.Epoch = epoch.Epoch(data[128])
	return info, nil
}

// PendingKey identifies an unreceived transfer: the destination account
// that owns it, and the hash of the send block that created it.
type PendingKey struct {
	Destination types.Account
	SendHash    types.BlockHash
}

// Bytes returns the table key bytes for k: destination then send hash,
// so pending entries for one destination iterate contiguously.
func (k PendingKey) Bytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, k.Destination[:]...)
	out = append(out, k.SendHash[:]...)
	return out
}

// PendingInfo is the value stored at a PendingKey.
type PendingInfo struct {
	Source types.Account
	Amount types.Amount
	Epoch  epoch.Epoch
}

const pendingInfoLen = 32 + 16 + 1

// MarshalPendingInfo serializes a PendingInfo.
func MarshalPendingInfo(p PendingInfo) []byte {
	out := make([]byte, 0, pendingInfoLen)
	out = append(out, p.Source[:]...)
	bal := p.Amount.Bytes16()
	out = append(out, bal[:]...)
	out = append(out, byte(p.Epoch))
	return out
}

// UnmarshalPendingInfo parses the layout MarshalPendingInfo produces.
func UnmarshalPendingInfo(data []byte) (PendingInfo, error) {
	var p PendingInfo
	if len(data) != pendingInfoLen {
		return p, errors.New("ledger: short pending info")
	}
	copy(p.Source[:], data[0:32])
	var bal [16]byte
	copy(bal[:], data[32:48])
	p.Amount = types.AmountFromBig16(bal)
	p.Epoch = epoch.Epoch(data[48])
	return p, nil
}

// ConfirmationHeightInfo is the cemented tip recorded per account.
type ConfirmationHeightInfo struct {
	Height   uint64
	Frontier types.BlockHash
}

const confirmationHeightInfoLen = 8 + 32

// MarshalConfirmationHeightInfo serializes a ConfirmationHeightInfo.
func MarshalConfirmationHeightInfo(c ConfirmationHeightInfo) []byte {
	out := make([]byte, 0, confirmationHeightInfoLen)
	var height [8]byte
	binary.LittleEndian.PutUint64(height[:], c.Height)
	out = append(out, height[:]...)
	out = append(out, c.Frontier[:]...)
	return out
}

// UnmarshalConfirmationHeightInfo parses the layout
// MarshalConfirmationHeightInfo produces.
func UnmarshalConfirmationHeightInfo(data []byte) (ConfirmationHeightInfo, error) {
	var c ConfirmationHeightInfo
	if len(data) != confirmationHeightInfoLen {
		return c, errors.New("ledger: short confirmation height info")
	}
	c.Height = binary.LittleEndian.Uint64(data[0:8])
	copy(c.Frontier[:], data[8:40])
	return c, nil
}
