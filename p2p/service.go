// Package p2p wires the node onto the network: a libp2p host carries
// per-peer streams for confirm_req/confirm_ack/publish traffic, and a
// gossipsub router carries unsolicited block and vote broadcast.
// Grounded on the reference node's network layer (tcp_channels +
// flood-broadcast) as refracted through the teacher's libp2p-based
// beacon-chain/p2p service.
package p2p

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p-core/network"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/p2p/message"
	nodepeer "github.com/scendere/scendere-node/p2p/peer"
	"github.com/scendere/scendere-node/p2p/telemetry"
)

var log = logrus.WithField("prefix", "p2p")

// ProtocolID identifies this node's stream protocol for confirm_req/
// confirm_ack/publish traffic carried over a direct per-peer stream
// (as opposed to gossipsub, used for unsolicited flood broadcast).
const ProtocolID = protocol.ID("/scendere/wire/1.0.0")

const (
	topicPublish = "/scendere/publish/1.0.0"
	topicVote    = "/scendere/vote/1.0.0"
)

// BlockHandler processes a block learned from the network, whether
// received via gossip or a direct publish/confirm_req stream message.
type BlockHandler interface {
	HandleBlock(b *blocks.Block, ch *nodepeer.Channel)
}

// VoteHandler processes a vote learned from the network.
type VoteHandler interface {
	HandleVote(v *types.Vote, ch *nodepeer.Channel)
}

// ConfirmReqHandler answers a batched (root, hash) confirm_req from a
// specific peer.
type ConfirmReqHandler interface {
	HandleConfirmReq(pairs []message.RootHash, ch *nodepeer.Channel)
}

// Config configures a Service.
type Config struct {
	ListenAddrs    []string
	BandwidthRate  float64
	BandwidthBurst int64
	// FilterSize bounds the seen-message digest cache used to dedup
	// gossip; zero falls back to message.NewFilter's own default.
	FilterSize  int
	Blocks      BlockHandler
	Votes       VoteHandler
	ConfirmReqs ConfirmReqHandler

	// Telemetry, if set, receives telemetry_ack replies and is queried
	// for the local snapshot this node answers a telemetry_req with.
	Telemetry *telemetry.Tracker
	// LocalTelemetry produces this node's own signed snapshot on
	// demand; nil means telemetry_req goes unanswered.
	LocalTelemetry func() telemetry.Data
}

// Service owns the libp2p host and gossipsub router, and tracks one
// nodepeer.Channel per connected peer.
type Service struct {
	cfg    *Config
	host   host.Host
	pubsub *pubsub.PubSub
	filter *message.Filter

	mu           sync.Mutex
	joinedTopics map[string]*pubsub.Topic
	channels     map[libp2ppeer.ID]*nodepeer.Channel

	limiterMu sync.Mutex
	limiters  map[libp2ppeer.ID]nodepeer.Limiter
}

// New builds a Service listening on cfg's addresses. It does not start
// gossip subscriptions or the stream handler; call Start for that.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	addrs := make([]ma.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, a := range cfg.ListenAddrs {
		maddr, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, maddr)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(addrs...))
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}
	filter, err := message.NewFilter(cfg.FilterSize)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:          cfg,
		host:         h,
		pubsub:       ps,
		filter:       filter,
		joinedTopics: make(map[string]*pubsub.Topic),
		channels:     make(map[libp2ppeer.ID]*nodepeer.Channel),
		limiters:     make(map[libp2ppeer.ID]nodepeer.Limiter),
	}
	h.SetStreamHandler(ProtocolID, s.handleStream)
	return s, nil
}

// Host exposes the underlying libp2p host, e.g. for dialing peers.
func (s *Service) Host() host.Host {
	return s.host
}

// Start joins the gossip topics and begins dispatching incoming
// messages until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.subscribeTopic(ctx, topicPublish, s.handlePublishGossip); err != nil {
		return err
	}
	if err := s.subscribeTopic(ctx, topicVote, s.handleVoteGossip); err != nil {
		return err
	}
	return nil
}

func (s *Service) joinTopic(name string) (*pubsub.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.joinedTopics[name]; ok {
		return t, nil
	}
	t, err := s.pubsub.Join(name)
	if err != nil {
		return nil, err
	}
	s.joinedTopics[name] = t
	return t, nil
}

func (s *Service) subscribeTopic(ctx context.Context, name string, handle func([]byte, libp2ppeer.ID)) error {
	topic, err := s.joinTopic(name)
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return err
	}
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == s.host.ID() {
				continue
			}
			handle(msg.Data, msg.ReceivedFrom)
		}
	}()
	return nil
}

func (s *Service) handlePublishGossip(raw []byte, from libp2ppeer.ID) {
	if s.filter.Seen(message.Digest(raw)) {
		return
	}
	msg, err := message.Decode(raw)
	if err != nil {
		log.WithError(err).Debug("failed to decode gossiped publish")
		return
	}
	p, ok := msg.Payload.(*message.Publish)
	if !ok || s.cfg.Blocks == nil {
		return
	}
	s.cfg.Blocks.HandleBlock(p.Block, s.channelFor(from))
}

func (s *Service) handleVoteGossip(raw []byte, from libp2ppeer.ID) {
	if s.filter.Seen(message.Digest(raw)) {
		return
	}
	msg, err := message.Decode(raw)
	if err != nil {
		log.WithError(err).Debug("failed to decode gossiped vote")
		return
	}
	a, ok := msg.Payload.(*message.ConfirmAck)
	if !ok || s.cfg.Votes == nil {
		return
	}
	s.cfg.Votes.HandleVote(a.Vote, s.channelFor(from))
}

// BroadcastBlock gossips b to every subscriber of the publish topic.
// Satisfies the shape a node-wide publish broadcaster needs (the
// reference node's flood-broadcast of a just-confirmed or just-seen
// block).
func (s *Service) BroadcastBlock(ctx context.Context, b *blocks.Block) error {
	topic, err := s.joinTopic(topicPublish)
	if err != nil {
		return err
	}
	raw, err := (&message.Publish{Block: b}).Encode(nodepeer.WireVersion)
	if err != nil {
		return err
	}
	return topic.Publish(ctx, raw)
}

// Broadcast gossips v to every subscriber of the vote topic. Implements
// vote/generator.Broadcaster for the node-wide (not per-peer) send
// path.
func (s *Service) Broadcast(v *types.Vote) error {
	topic, err := s.joinTopic(topicVote)
	if err != nil {
		return err
	}
	raw, err := (&message.ConfirmAck{Vote: v}).Encode(nodepeer.WireVersion)
	if err != nil {
		return err
	}
	return topic.Publish(context.Background(), raw)
}

// channelFor returns (creating if necessary) the nodepeer.Channel used
// to reply to peer id directly, opening a fresh stream over
// ProtocolID if one isn't already cached.
func (s *Service) channelFor(id libp2ppeer.ID) *nodepeer.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[id]; ok {
		return ch
	}
	stream, err := s.host.NewStream(context.Background(), id, ProtocolID)
	if err != nil {
		log.WithError(err).WithField("peer", id.String()).Debug("failed to open reply stream")
		return nodepeer.NewChannel(id.String(), io.Discard, nil)
	}
	limiter := s.limiterFor(id)
	ch := nodepeer.NewChannel(id.String(), stream, limiter)
	s.channels[id] = ch
	return ch
}

func (s *Service) limiterFor(id libp2ppeer.ID) nodepeer.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	if l, ok := s.limiters[id]; ok {
		return l
	}
	rate := s.cfg.BandwidthRate
	burst := s.cfg.BandwidthBurst
	if rate <= 0 {
		rate = nodepeer.DefaultBandwidthRate
	}
	if burst <= 0 {
		burst = nodepeer.DefaultBandwidthBurst
	}
	l := nodepeer.NewLimiter(rate, burst, true)
	s.limiters[id] = l
	return l
}

// handleStream reads length-delimited wire messages off an inbound
// direct stream (used for confirm_req and any reply traffic a peer
// sends outside of gossip) until the stream closes.
func (s *Service) handleStream(stream libp2pnetwork.Stream) {
	defer stream.Close()
	from := stream.Conn().RemotePeer()

	s.mu.Lock()
	if _, ok := s.channels[from]; !ok {
		s.channels[from] = nodepeer.NewChannel(from.String(), stream, s.limiterFor(from))
	}
	s.mu.Unlock()

	r := bufio.NewReader(stream)
	header := make([]byte, message.HeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		h, err := message.DecodeHeader(header)
		if err != nil {
			log.WithError(err).WithField("peer", from.String()).Debug("bad header, closing stream")
			return
		}
		body, err := readBody(r, h)
		if err != nil {
			return
		}
		s.dispatch(h, body, from)
	}
}

// readBody reads however many bytes the message type h.Type implies.
// confirm_req/confirm_ack are self-describing via Extensions; publish
// bodies are framed by a length prefix written by peer.Channel... since
// blocks.Marshal's length is implicit in its type-specific layout, the
// sender writes a 4-byte little-endian length prefix ahead of any
// publish/confirm_req-with-block body so the reader knows where it
// ends.
func readBody(r *bufio.Reader, h message.Header) ([]byte, error) {
	switch h.Type {
	case message.TypeConfirmAck:
		return readN(r, 32+64+8+h.Count()*32)
	case message.TypeConfirmReq:
		if h.Count() > 0 {
			return readN(r, h.Count()*64)
		}
		return readLengthPrefixed(r)
	case message.TypePublish:
		return readLengthPrefixed(r)
	case message.TypeKeepalive:
		return readN(r, message.KeepaliveEndpoints*18)
	case message.TypeTelemetryReq:
		return nil, nil
	case message.TypeTelemetryAck:
		return readN(r, telemetry.DataSize)
	default:
		return readLengthPrefixed(r)
	}
}

func readN(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readLengthPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	return readN(r, n)
}

func (s *Service) dispatch(h message.Header, body []byte, from libp2ppeer.ID) {
	ch := s.channelFor(from)
	switch h.Type {
	case message.TypePublish:
		p, err := message.DecodePublish(body)
		if err != nil {
			log.WithError(err).Debug("bad publish body")
			return
		}
		if s.cfg.Blocks != nil {
			s.cfg.Blocks.HandleBlock(p.Block, ch)
		}
	case message.TypeConfirmReq:
		req, err := message.DecodeConfirmReq(h, body)
		if err != nil {
			log.WithError(err).Debug("bad confirm_req body")
			return
		}
		if req.Block != nil && s.cfg.Blocks != nil {
			s.cfg.Blocks.HandleBlock(req.Block, ch)
			return
		}
		if s.cfg.ConfirmReqs != nil {
			pairs := make([]message.RootHash, len(req.Pairs))
			copy(pairs, req.Pairs)
			s.cfg.ConfirmReqs.HandleConfirmReq(pairs, ch)
		}
	case message.TypeConfirmAck:
		a, err := message.DecodeConfirmAck(h, body)
		if err != nil {
			log.WithError(err).Debug("bad confirm_ack body")
			return
		}
		if s.cfg.Votes != nil {
			s.cfg.Votes.HandleVote(a.Vote, ch)
		}
	case message.TypeTelemetryReq:
		if s.cfg.LocalTelemetry != nil {
			if err := ch.SendTelemetryAck(s.cfg.LocalTelemetry()); err != nil {
				log.WithError(err).WithField("peer", ch.Key()).Debug("failed to send telemetry_ack")
			}
		}
	case message.TypeTelemetryAck:
		data, err := telemetry.Decode(body)
		if err != nil {
			log.WithError(err).Debug("bad telemetry_ack body")
			return
		}
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.Set(ch.Key(), data)
		}
	}
}

// RequestTelemetry sends a telemetry_req to the peer identified by
// key, satisfying telemetry.Requester.
func (s *Service) RequestTelemetry(key string) error {
	s.mu.Lock()
	var target *nodepeer.Channel
	for id, ch := range s.channels {
		if id.String() == key {
			target = ch
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return errUnknownPeer
	}
	return target.SendTelemetryReq()
}

var errUnknownPeer = shortPeerErr("p2p: no channel open for requested peer")

type shortPeerErr string

func (e shortPeerErr) Error() string { return string(e) }

// Close shuts down every peer stream and the libp2p host.
func (s *Service) Close() error {
	s.mu.Lock()
	for _, ch := range s.channels {
		ch.Close()
	}
	s.mu.Unlock()
	return s.host.Close()
}
