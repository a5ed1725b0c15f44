// Package telemetry implements telemetry_req/telemetry_ack: a node
// asks a peer for its version, block count, cemented count and peer
// count, caches the response, and asks again once the cache entry is
// older than the cutoff. Grounded
// on the reference node's telemetry.{hpp,cpp}.
package telemetry

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"sync"
	"time"

	"github.com/scendere/scendere-node/core/types"
)

// DataSize is the wire-encoded length of Data: a 32-byte genesis hash,
// a 32-byte node ID, a 64-byte signature, three uint64 counters, one
// uint32 peer count, four single-byte version components and an
// 8-byte timestamp.
const DataSize = 32 + 32 + 64 + 8*3 + 4 + 4 + 8

// Data is one peer's self-reported telemetry snapshot, matching the
// reference node's telemetry_data: enough to detect a peer running an
// incompatible fork (GenesisHash) or a stale/malicious reply
// (Signature, Timestamp).
type Data struct {
	GenesisHash   types.BlockHash
	NodeID        types.Account
	Signature     types.Signature
	BlockCount    uint64
	CementedCount uint64
	UncheckedCount uint64
	PeerCount     uint32
	Major         uint8
	Minor         uint8
	Patch         uint8
	Protocol      uint8
	Timestamp     uint64
}

// signingData is the portion of Data covered by Signature: everything
// except the signature itself.
func (d Data) signingData() []byte {
	buf := make([]byte, 0, DataSize-types.SignatureSize)
	buf = append(buf, d.GenesisHash[:]...)
	buf = append(buf, d.NodeID[:]...)
	buf = appendUint64(buf, d.BlockCount)
	buf = appendUint64(buf, d.CementedCount)
	buf = appendUint64(buf, d.UncheckedCount)
	buf = appendUint32(buf, d.PeerCount)
	buf = append(buf, d.Major, d.Minor, d.Patch, d.Protocol)
	buf = appendUint64(buf, d.Timestamp)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// Sign fills in d.Signature over d's other fields using priv, and
// returns the signed copy.
func (d Data) Sign(priv ed25519.PrivateKey) Data {
	d.Signature = types.Sign(priv, d.signingData())
	return d
}

// Verify reports whether d.Signature is a valid Ed25519 signature by
// d.NodeID over d's other fields.
func (d Data) Verify() bool {
	return types.Verify(d.NodeID, d.signingData(), d.Signature)
}

// Encode serializes d for the telemetry_ack payload.
func (d Data) Encode() []byte {
	buf := make([]byte, 0, DataSize)
	buf = append(buf, d.GenesisHash[:]...)
	buf = append(buf, d.NodeID[:]...)
	buf = append(buf, d.Signature[:]...)
	buf = appendUint64(buf, d.BlockCount)
	buf = appendUint64(buf, d.CementedCount)
	buf = appendUint64(buf, d.UncheckedCount)
	buf = appendUint32(buf, d.PeerCount)
	buf = append(buf, d.Major, d.Minor, d.Patch, d.Protocol)
	buf = appendUint64(buf, d.Timestamp)
	return buf
}

// Decode parses a telemetry_ack payload produced by Encode.
func Decode(body []byte) (Data, error) {
	if len(body) < DataSize {
		return Data{}, errShortTelemetry
	}
	var d Data
	off := 0
	copy(d.GenesisHash[:], body[off:off+32])
	off += 32
	copy(d.NodeID[:], body[off:off+32])
	off += 32
	copy(d.Signature[:], body[off:off+64])
	off += 64
	d.BlockCount = binary.LittleEndian.Uint64(body[off:])
	off += 8
	d.CementedCount = binary.LittleEndian.Uint64(body[off:])
	off += 8
	d.UncheckedCount = binary.LittleEndian.Uint64(body[off:])
	off += 8
	d.PeerCount = binary.LittleEndian.Uint32(body[off:])
	off += 4
	d.Major, d.Minor, d.Patch, d.Protocol = body[off], body[off+1], body[off+2], body[off+3]
	off += 4
	d.Timestamp = binary.LittleEndian.Uint64(body[off:])
	return d, nil
}

var errShortTelemetry = shortErr("telemetry: payload too short")

type shortErr string

func (e shortErr) Error() string { return string(e) }

// DefaultCacheCutoff is how long a cached response is served before a
// fresh request is due, matching the reference node's cache_cutoff.
const DefaultCacheCutoff = 60 * time.Second

// DefaultResponseTimeout bounds how long a single request waits for a
// reply before being treated as an error.
const DefaultResponseTimeout = 10 * time.Second

type entry struct {
	data     Data
	received time.Time
}

// Requester sends a telemetry_req to a specific peer, identified by
// key (the same peer identity aggregator.Channel/solicitor.Sender use).
type Requester interface {
	RequestTelemetry(key string) error
}

// Tracker caches the most recent telemetry Data seen from each peer
// behind a fixed cutoff, mirroring the reference node's telemetry
// class. It re-requests a peer's data only when Get finds no entry
// fresher than the cutoff; nothing refreshes entries in the background.
type Tracker struct {
	requester    Requester
	cacheCutoff  time.Duration
	localGenesis types.BlockHash

	mu      sync.Mutex
	cache   map[string]entry
	waiters map[string][]chan Data
}

// New builds a Tracker that rejects any peer reply whose GenesisHash
// doesn't match localGenesis (the reference node's "unsound metrics,
// e.g. different genesis block" rejection).
func New(requester Requester, localGenesis types.BlockHash) *Tracker {
	return &Tracker{
		requester:    requester,
		cacheCutoff:  DefaultCacheCutoff,
		localGenesis: localGenesis,
		cache:        make(map[string]entry),
		waiters:      make(map[string][]chan Data),
	}
}

// Set records data as the latest telemetry reply from peer key,
// validating its signature and genesis hash first. Any callers blocked
// in Get for this peer are woken with the new data.
func (t *Tracker) Set(key string, data Data) bool {
	if data.GenesisHash != t.localGenesis {
		return false
	}
	if !data.Verify() {
		return false
	}
	t.mu.Lock()
	t.cache[key] = entry{data: data, received: time.Now()}
	waiters := t.waiters[key]
	delete(t.waiters, key)
	t.mu.Unlock()

	for _, w := range waiters {
		w <- data
		close(w)
	}
	return true
}

// Get returns the cached telemetry for key if it is fresher than the
// cache cutoff; otherwise it issues a fresh request and blocks until a
// reply arrives, ctx is canceled, or the response timeout elapses.
func (t *Tracker) Get(ctx context.Context, key string) (Data, error) {
	t.mu.Lock()
	if e, ok := t.cache[key]; ok && time.Since(e.received) < t.cacheCutoff {
		t.mu.Unlock()
		return e.data, nil
	}
	wait := make(chan Data, 1)
	t.waiters[key] = append(t.waiters[key], wait)
	t.mu.Unlock()

	if err := t.requester.RequestTelemetry(key); err != nil {
		return Data{}, err
	}

	timeout := time.NewTimer(DefaultResponseTimeout)
	defer timeout.Stop()
	select {
	case d := <-wait:
		return d, nil
	case <-ctx.Done():
		return Data{}, ctx.Err()
	case <-timeout.C:
		return Data{}, errTelemetryTimeout
	}
}

var errTelemetryTimeout = shortErr("telemetry: timed out waiting for response")

// Snapshot returns every cached peer telemetry entry currently within
// the cache cutoff, keyed by peer.
func (t *Tracker) Snapshot() map[string]Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Data, len(t.cache))
	now := time.Now()
	for key, e := range t.cache {
		if now.Sub(e.received) < t.cacheCutoff {
			out[key] = e.data
		}
	}
	return out
}
