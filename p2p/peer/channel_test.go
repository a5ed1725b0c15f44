package peer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scendere/scendere-node/aggregator"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/election/solicitor"
	"github.com/scendere/scendere-node/p2p/message"
	"github.com/scendere/scendere-node/vote/generator"
)

type fakeLimiter struct {
	allow bool
}

func (f fakeLimiter) Add(key string, amount int64) (int64, bool) {
	return 0, f.allow
}

func TestChannel_SendVoteWritesConfirmAck(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel("peer1", &buf, nil)

	v := &types.Vote{Account: types.Account{1}, Hashes: []types.BlockHash{{2}}}
	require.NoError(t, ch.SendVote(v))

	msg, err := message.Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, message.TypeConfirmAck, msg.Header.Type)
	require.Equal(t, v, msg.Payload.(*message.ConfirmAck).Vote)
}

func TestChannel_SendPublishWritesBlock(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel("peer1", &buf, nil)

	b := &blocks.Block{Type: blocks.TypeSend, Previous: types.BlockHash{9}, Balance: types.NewAmount(1)}
	require.NoError(t, ch.SendPublish(b))

	msg, err := message.Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, message.TypePublish, msg.Header.Type)
}

func TestChannel_SendConfirmReqWritesPairs(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel("peer1", &buf, nil)

	roots := []solicitor.RootPair{{Root: types.Root{1}, Hash: types.BlockHash{2}}}
	require.NoError(t, ch.SendConfirmReq(roots))

	msg, err := message.Decode(buf.Bytes())
	require.NoError(t, err)
	req := msg.Payload.(*message.ConfirmReq)
	require.Len(t, req.Pairs, 1)
}

func TestChannel_RateLimitedSendIsDroppedNotErrored(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel("peer1", &buf, fakeLimiter{allow: false})

	require.NoError(t, ch.SendVote(&types.Vote{Account: types.Account{1}}))
	require.Empty(t, buf.Bytes())
}

func TestChannel_CloseDropsFurtherSends(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel("peer1", &buf, nil)
	ch.Close()

	require.NoError(t, ch.SendVote(&types.Vote{Account: types.Account{1}}))
	require.Empty(t, buf.Bytes())
}

func TestChannel_SatisfiesDownstreamInterfaces(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel("peer1", &buf, nil)

	var _ aggregator.Channel = ch
	var _ solicitor.Sender = ch
	var _ generator.Broadcaster = ch
}
