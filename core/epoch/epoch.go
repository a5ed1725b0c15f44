// Package epoch implements the protocol-version tag: a monotonic enum
// gating work thresholds and feature availability per account, plus the
// registry of epoch-upgrade link tags and signers.
package epoch

import (
	"fmt"

	"github.com/scendere/scendere-node/core/types"
)

// Epoch is the per-account protocol-version tag.
type Epoch uint8

const (
	Invalid     Epoch = 0
	Unspecified Epoch = 1
	Epoch0      Epoch = 2
	Epoch1      Epoch = 3
	Epoch2      Epoch = 4
	Max               = Epoch2
)

// Normalized turns Epoch0 into 0, Epoch1 into 1, and so on, for use as a
// dense array index (e.g. per-epoch work thresholds).
func Normalized(e Epoch) uint8 {
	if e < Epoch0 {
		panic(fmt.Sprintf("epoch: %d is below epoch_0, cannot normalize", e))
	}
	return uint8(e - Epoch0)
}

// IsSequential reports whether newEpoch is exactly one version above cur,
// the rule gating an epoch-upgrade block's acceptance.
func IsSequential(cur, newEpoch Epoch) bool {
	if cur < Epoch0 {
		return false
	}
	return newEpoch == cur+1
}

// Info binds an epoch to its reserved link tag and the Ed25519 signer
// authorized to publish upgrade blocks for it.
type Info struct {
	Signer types.Account
	Link   types.Link
}

// Registry is the set of configured epoch upgrades, keyed by Epoch.
// Constructed once at startup from config and passed by reference; there
// is deliberately no package-level mutable registry.
type Registry struct {
	byEpoch map[Epoch]Info
	byLink  map[types.Link]Epoch
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byEpoch: make(map[Epoch]Info),
		byLink:  make(map[types.Link]Epoch),
	}
}

// Add registers signer/link for e. Panics on duplicate registration,
// matching the reference implementation's debug_assert on re-add.
func (r *Registry) Add(e Epoch, signer types.Account, link types.Link) {
	if _, exists := r.byEpoch[e]; exists {
		panic(fmt.Sprintf("epoch: %d already registered", e))
	}
	r.byEpoch[e] = Info{Signer: signer, Link: link}
	r.byLink[link] = e
}

// IsEpochLink reports whether link matches one of the registered epoch
// tags. As the reference docs warn: a legal block can coincidentally
// carry an epoch link as a destination account, so this alone does not
// prove a block is an epoch block — callers must also check the signer
// and that balance/representative are unchanged.
func (r *Registry) IsEpochLink(link types.Link) bool {
	_, ok := r.byLink[link]
	return ok
}

// EpochForLink returns the epoch tagged by link, and false if link is not
// a registered epoch tag.
func (r *Registry) EpochForLink(link types.Link) (Epoch, bool) {
	e, ok := r.byLink[link]
	return e, ok
}

// Link returns the reserved link tag for e.
func (r *Registry) Link(e Epoch) (types.Link, bool) {
	info, ok := r.byEpoch[e]
	return info.Link, ok
}

// Signer returns the authorized upgrade signer for e.
func (r *Registry) Signer(e Epoch) (types.Account, bool) {
	info, ok := r.byEpoch[e]
	return info.Signer, ok
}
