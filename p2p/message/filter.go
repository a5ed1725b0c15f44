package message

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultFilterSize bounds how many recently seen message digests Filter
// remembers before the oldest is evicted.
const DefaultFilterSize = 4096

// Filter suppresses re-processing of a message already seen recently,
// keyed by a digest of its raw wire bytes (gossip networks routinely
// redeliver the same publish/confirm_ack to a peer from more than one
// neighbor).
type Filter struct {
	seen *lru.Cache[[32]byte, struct{}]
}

// NewFilter builds a Filter remembering up to size recent digests. A
// non-positive size falls back to DefaultFilterSize.
func NewFilter(size int) (*Filter, error) {
	if size <= 0 {
		size = DefaultFilterSize
	}
	c, err := lru.New[[32]byte, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Filter{seen: c}, nil
}

// Digest returns the dedup key for raw wire bytes.
func Digest(raw []byte) [32]byte {
	return sha256.Sum256(raw)
}

// Seen reports whether digest was already recorded, recording it if not.
// Returns false exactly once per distinct message within the filter's
// retention window (on first sight) and true on every later call.
func (f *Filter) Seen(digest [32]byte) bool {
	if _, ok := f.seen.Get(digest); ok {
		return true
	}
	f.seen.Add(digest, struct{}{})
	return false
}
