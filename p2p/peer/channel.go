// Package peer implements the per-connection side of the wire protocol:
// a Channel wraps one peer's outbound stream, applying a bandwidth cap
// before writing an encoded message. Grounded on the reference node's
// transport::channel abstraction (bufferevent outbound writes gated by a
// per-peer token bucket).
package peer

import (
	"io"
	"sync"

	"github.com/kevinms/leakybucket-go"
	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/election/solicitor"
	"github.com/scendere/scendere-node/p2p/message"
	"github.com/scendere/scendere-node/p2p/telemetry"
)

var log = logrus.WithField("prefix", "p2p_peer")

// DefaultBandwidthRate is the steady-state outbound byte rate allowed per
// channel, in bytes/sec.
const DefaultBandwidthRate = 5 * 1024 * 1024

// DefaultBandwidthBurst is how far a channel's usage may spike above the
// steady-state rate before writes are throttled.
const DefaultBandwidthBurst = 10 * 1024 * 1024

// WireVersion is the protocol version this node speaks, stamped into
// every outgoing header.
const WireVersion = 19

// Limiter caps how many bytes a key (here, a peer's Key()) may send
// within the current window. Satisfied by *leakybucket.Collector.
type Limiter interface {
	Add(key string, amount int64) (int64, bool)
}

// Writer is the minimal outbound transport a Channel writes encoded
// messages to; satisfied by a libp2p stream or any net.Conn.
type Writer interface {
	io.Writer
}

// Channel is one peer's outbound side of the wire protocol: SendVote
// satisfies aggregator.Channel, Broadcast satisfies
// vote/generator.Broadcaster; SendConfirmReq/SendPublish satisfy
// election/solicitor.Sender.
type Channel struct {
	key     string
	conn    Writer
	limiter Limiter

	mu     sync.Mutex
	closed bool
}

// NewChannel builds a Channel over conn, identified by key (typically a
// libp2p peer ID), rate-limited by limiter. A nil limiter disables
// bandwidth capping (useful in tests).
func NewChannel(key string, conn Writer, limiter Limiter) *Channel {
	return &Channel{key: key, conn: conn, limiter: limiter}
}

// Key identifies this channel's peer for per-peer pooling (aggregator,
// solicitor).
func (c *Channel) Key() string {
	return c.key
}

// Close marks the channel closed; further sends are silently dropped
// rather than erroring, since a send racing a disconnect is routine.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if closer, ok := c.conn.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (c *Channel) write(raw []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	if c.limiter != nil {
		if _, ok := c.limiter.Add(c.key, int64(len(raw))); !ok {
			log.WithField("peer", c.key).Debug("dropping outbound message, bandwidth limit exceeded")
			return nil
		}
	}
	_, err := c.conn.Write(raw)
	return err
}

// SendVote encodes v as a confirm_ack and writes it.
func (c *Channel) SendVote(v *types.Vote) error {
	raw, err := (&message.ConfirmAck{Vote: v}).Encode(WireVersion)
	if err != nil {
		return err
	}
	return c.write(raw)
}

// Broadcast is an alias for SendVote, letting a Channel double as a
// vote/generator.Broadcaster for tests and single-peer deployments; a
// real network-wide broadcast goes through the p2p package's gossip
// publisher instead.
func (c *Channel) Broadcast(v *types.Vote) error {
	return c.SendVote(v)
}

// SendConfirmReq encodes roots as a batched confirm_req and writes it.
// Declared over solicitor.RootPair (not a locally duplicated type) so
// *Channel satisfies solicitor.Sender directly.
func (c *Channel) SendConfirmReq(roots []solicitor.RootPair) error {
	pairs := make([]message.RootHash, len(roots))
	for i, r := range roots {
		pairs[i] = message.RootHash{Hash: r.Hash, Root: r.Root}
	}
	raw, err := (&message.ConfirmReq{Pairs: pairs}).Encode(WireVersion)
	if err != nil {
		return err
	}
	return c.write(raw)
}

// SendPublish encodes b as a publish and writes it.
func (c *Channel) SendPublish(b *blocks.Block) error {
	raw, err := (&message.Publish{Block: b}).Encode(WireVersion)
	if err != nil {
		return err
	}
	return c.write(raw)
}

// SendTelemetryReq asks this peer to reply with its telemetry data,
// satisfying telemetry.Requester.
func (c *Channel) SendTelemetryReq() error {
	return c.write(message.EncodeTelemetryReq(WireVersion))
}

// SendTelemetryAck replies to a telemetry_req with this node's signed
// telemetry snapshot.
func (c *Channel) SendTelemetryAck(data telemetry.Data) error {
	return c.write(message.EncodeTelemetryAck(WireVersion, data))
}

// NewLimiter builds a bandwidth Limiter with the given rate (bytes/sec)
// and burst capacity (bytes). locking guards internal access with a
// mutex; pass true unless the caller already serializes Add calls.
func NewLimiter(rate float64, burst int64, locking bool) Limiter {
	return leakybucket.NewCollector(rate, burst, locking)
}
