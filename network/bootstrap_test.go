package network

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shruggr/chainsync/chainstore"
	"github.com/shruggr/chainsync/chainstore/chaintest"
	"github.com/shruggr/chainsync/models"
)

type fakeStream struct {
	blocks []*models.Block
	err    error // returned once blocks are exhausted, instead of io.EOF
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (*models.Block, error) {
	if s.pos < len(s.blocks) {
		s.pos++
		return s.blocks[s.pos-1], nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeSession struct {
	stream   *fakeStream
	chain    []*models.Block // when set, pulls are answered from it instead of stream
	readyErr error
	pullErr  error
	from     []models.HeaderHash
	closed   bool
}

func (s *fakeSession) Ready(context.Context) error {
	return s.readyErr
}

func (s *fakeSession) PullBlocksToTip(_ context.Context, from []models.HeaderHash) (BlockStream, error) {
	s.from = from
	if s.pullErr != nil {
		return nil, s.pullErr
	}
	if s.chain != nil {
		s.stream = blocksAfter(s.chain, from)
		if s.stream == nil {
			return nil, errors.New("no common ancestor")
		}
	}
	return s.stream, nil
}

// blocksAfter serves chain past the newest checkpoint it holds
func blocksAfter(chain []*models.Block, from []models.HeaderHash) *fakeStream {
	for _, h := range from {
		for i, b := range chain {
			if b.Hash() == h {
				return &fakeStream{blocks: chain[i+1:]}
			}
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeConnector struct {
	sessions map[string]*fakeSession
	connects int
}

func (c *fakeConnector) Connect(_ context.Context, peer Peer) (Session, error) {
	c.connects++
	s, ok := c.sessions[peer.String()]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return s, nil
}

type initConnector struct {
	*fakeConnector
	err   error
	inits int
}

func (c *initConnector) Init(context.Context) error {
	c.inits++
	return c.err
}

// countingChain records the calls that change state
type countingChain struct {
	*chainstore.Blockchain
	applied    []models.HeaderHash
	selections int
	selectErr  error
}

func (c *countingChain) ApplyAndStoreBlock(ctx context.Context, post *chainstore.PostCheckedHeader, block *models.Block) (*models.Ref, error) {
	c.applied = append(c.applied, block.Hash())
	return c.Blockchain.ApplyAndStoreBlock(ctx, post, block)
}

func (c *countingChain) ProcessNewRef(ctx context.Context, tip *chainstore.Tip, candidate *models.Ref) error {
	c.selections++
	if c.selectErr != nil {
		return c.selectErr
	}
	return c.Blockchain.ProcessNewRef(ctx, tip, candidate)
}

const testPeerAddr = "/ip4/127.0.0.1/tcp/3000"

type fixture struct {
	node      *chaintest.Node
	chain     *countingChain
	connector *fakeConnector
	session   *fakeSession
	peer      Peer
}

func newFixture(t *testing.T, blocks ...*models.Block) *fixture {
	t.Helper()

	peer, err := ParsePeer(testPeerAddr)
	require.NoError(t, err)

	session := &fakeSession{stream: &fakeStream{blocks: blocks}}
	node := chaintest.NewDefaultNode(t)

	return &fixture{
		node:      node,
		chain:     &countingChain{Blockchain: node.Chain},
		connector: &fakeConnector{sessions: map[string]*fakeSession{peer.String(): session}},
		session:   session,
		peer:      peer,
	}
}

func (f *fixture) bootstrapper() *Bootstrapper {
	return NewBootstrapper(f.chain, f.connector, nil, nil)
}

func (f *fixture) run(t *testing.T) (*models.Ref, error) {
	t.Helper()
	return f.bootstrapper().FromPeer(context.Background(), f.peer, f.node.Tip)
}

func hashesOf(blocks ...*models.Block) []models.HeaderHash {
	out := make([]models.HeaderHash, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.Hash())
	}
	return out
}

func TestFromPeerEndToEnd(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 2)
	f := newFixture(t, genesis, blocks[0], blocks[1])

	ref, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, blocks[1].Hash(), ref.Hash())
	assert.Equal(t, blocks[1].Hash(), f.node.Tip.GetRef().Hash())
	assert.Equal(t, hashesOf(blocks...), f.chain.applied)
	assert.Equal(t, 1, f.chain.selections)
	assert.Equal(t, []models.HeaderHash{genesis.Hash()}, f.session.from)
	assert.True(t, f.session.closed)
	assert.True(t, f.session.stream.closed)
}

func TestFromPeerSendsCheckpoints(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 4)
	f := newFixture(t, blocks[3])
	f.node.ApplyAndSelect(blocks[:3]...)

	ref, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, blocks[3].Hash(), ref.Hash())
	assert.Equal(t, hashesOf(blocks[2], blocks[1], blocks[0], genesis), f.session.from)
}

func TestFromPeerMissingParent(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	a := chaintest.Extend(t, genesis.Header, 1)[0]
	unknown := chaintest.Fork(t, genesis.Header, 1, "unknown")[0]
	c := chaintest.Extend(t, unknown.Header, 1)[0]
	f := newFixture(t, a, c)

	_, err := f.run(t)
	require.Error(t, err)

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindBlockMissingParent, e.Kind)
	assert.Equal(t, c.Hash(), e.Block)

	assert.Equal(t, hashesOf(a), f.chain.applied)
	assert.Equal(t, 0, f.chain.selections)
	assert.Equal(t, genesis.Hash(), f.node.Tip.GetRef().Hash())
	assert.True(t, f.session.closed)
	assert.True(t, f.session.stream.closed)
}

func TestFromPeerAppliesInStreamOrder(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 5)
	f := newFixture(t, blocks...)

	ref, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, blocks[4].Hash(), ref.Hash())
	assert.Equal(t, hashesOf(blocks...), f.chain.applied)

	// the applied chain links back through the stream in order
	ctx := context.Background()
	cur := ref
	for i := len(blocks) - 1; i >= 0; i-- {
		require.Equal(t, blocks[i].Hash(), cur.Hash())
		cur, err = f.node.Chain.GetRef(ctx, cur.ParentHash())
		require.NoError(t, err)
		require.NotNil(t, cur)
	}
	assert.Equal(t, genesis.Hash(), cur.Hash())
}

func TestFromPeerRejectsPermutedStream(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 3)
	f := newFixture(t, blocks[0], blocks[2], blocks[1])

	_, err := f.run(t)
	assert.True(t, IsKind(err, KindBlockMissingParent))
	assert.Equal(t, hashesOf(blocks[0]), f.chain.applied)
	assert.Equal(t, genesis.Hash(), f.node.Tip.GetRef().Hash())
}

func TestFromPeerSkipsGenesis(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 3)

	with := newFixture(t, append([]*models.Block{genesis}, blocks...)...)
	without := newFixture(t, blocks...)

	a, err := with.run(t)
	require.NoError(t, err)
	b, err := without.run(t)
	require.NoError(t, err)

	assert.Equal(t, b.Hash(), a.Hash())
	assert.Equal(t, with.chain.applied, without.chain.applied)
}

func TestFromPeerAlreadyPresent(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 3)

	t.Run("repeated in stream", func(t *testing.T) {
		f := newFixture(t, blocks[0], blocks[1], blocks[0], blocks[2])

		_, err := f.run(t)
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, KindBlockAlreadyPresent, e.Kind)
		assert.Equal(t, blocks[0].Hash(), e.Block)
		assert.Equal(t, hashesOf(blocks[0], blocks[1]), f.chain.applied)
		assert.Equal(t, 0, f.chain.selections)
	})

	t.Run("stored before pull", func(t *testing.T) {
		f := newFixture(t, blocks...)
		f.node.Apply(blocks[0])

		_, err := f.run(t)
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, KindBlockAlreadyPresent, e.Kind)
		assert.Equal(t, blocks[0].Hash(), e.Block)
		assert.Empty(t, f.chain.applied)
	})
}

func TestFromPeerHeaderCheckFailed(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	a := chaintest.Extend(t, genesis.Header, 1)[0]

	// same date as its parent
	bad, err := models.NewBlock(a.Header, a.Header.Date, []byte("stale"))
	require.NoError(t, err)
	after := chaintest.Extend(t, bad.Header, 1)[0]

	f := newFixture(t, a, bad, after)

	_, err = f.run(t)
	assert.True(t, IsKind(err, KindHeaderCheckFailed))
	assert.ErrorIs(t, err, chainstore.ErrInvalidHeader)
	assert.Equal(t, hashesOf(a), f.chain.applied)
	assert.Equal(t, 0, f.chain.selections)

	ref, err := f.node.Chain.GetRef(context.Background(), a.Hash())
	require.NoError(t, err)
	assert.NotNil(t, ref)
}

func TestFromPeerApplyFailed(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	a := chaintest.Extend(t, genesis.Header, 1)[0]
	corrupt := &models.Block{Header: a.Header, Content: []byte("not the body")}
	f := newFixture(t, corrupt)

	_, err := f.run(t)
	assert.True(t, IsKind(err, KindApplyBlockFailed))
	assert.ErrorIs(t, err, chainstore.ErrContentMismatch)
}

func TestFromPeerSessionFailures(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 2)

	t.Run("connect", func(t *testing.T) {
		f := newFixture(t, blocks...)
		f.connector.sessions = nil

		_, err := f.run(t)
		assert.True(t, IsKind(err, KindConnect))
		assert.ErrorContains(t, err, "failed to connect to bootstrap peer: connection refused")
	})

	t.Run("ready", func(t *testing.T) {
		f := newFixture(t, blocks...)
		f.session.readyErr = errors.New("handshake failed")

		_, err := f.run(t)
		assert.True(t, IsKind(err, KindClientNotReady))
		assert.True(t, f.session.closed)
		assert.Nil(t, f.session.from)
	})

	t.Run("pull request", func(t *testing.T) {
		f := newFixture(t, blocks...)
		f.session.pullErr = errors.New("unavailable")

		_, err := f.run(t)
		assert.True(t, IsKind(err, KindPullRequestFailed))
		assert.True(t, f.session.closed)
	})

	t.Run("pull stream", func(t *testing.T) {
		f := newFixture(t, blocks[0])
		f.session.stream.err = errors.New("stream reset")

		_, err := f.run(t)
		assert.True(t, IsKind(err, KindPullStreamFailed))
		assert.Equal(t, hashesOf(blocks[0]), f.chain.applied)
		assert.Equal(t, genesis.Hash(), f.node.Tip.GetRef().Hash())
		assert.True(t, f.session.stream.closed)
	})

	t.Run("chain selection", func(t *testing.T) {
		f := newFixture(t, blocks...)
		f.chain.selectErr = errors.New("disk full")

		_, err := f.run(t)
		assert.True(t, IsKind(err, KindChainSelectionFailed))
		assert.Equal(t, genesis.Hash(), f.node.Tip.GetRef().Hash())
	})

	t.Run("canceled", func(t *testing.T) {
		f := newFixture(t, blocks...)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.bootstrapper().FromPeer(ctx, f.peer, f.node.Tip)
		assert.True(t, IsKind(err, KindPullStreamFailed))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.chain.applied)
	})
}

func TestFromPeerRuntimeInit(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	f := newFixture(t, chaintest.Extend(t, genesis.Header, 1)...)
	connector := &initConnector{fakeConnector: f.connector, err: errors.New("bad ca file")}
	b := NewBootstrapper(f.chain, connector, nil, nil)

	_, err := b.FromPeer(context.Background(), f.peer, f.node.Tip)
	assert.True(t, IsKind(err, KindRuntimeInit))
	assert.Equal(t, 0, f.connector.connects)

	connector.err = nil
	_, err = b.FromPeer(context.Background(), f.peer, f.node.Tip)
	require.NoError(t, err)

	// a successful init is not repeated
	_, err = b.FromPeer(context.Background(), f.peer, f.node.Tip)
	require.NoError(t, err)
	assert.Equal(t, 2, connector.inits)
}

func TestFromPeerNothingNew(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	f := newFixture(t, genesis)

	ref, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, genesis.Hash(), ref.Hash())
	assert.Empty(t, f.chain.applied)
	assert.Equal(t, genesis.Hash(), f.node.Tip.GetRef().Hash())
}

func TestFromTrustedPeers(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 2)

	down, err := ParsePeer("/ip4/127.0.0.1/tcp/3999")
	require.NoError(t, err)

	t.Run("no peers", func(t *testing.T) {
		f := newFixture(t, blocks...)
		_, err := f.bootstrapper().FromTrustedPeers(context.Background(), nil, f.node.Tip)
		assert.ErrorIs(t, err, ErrNoTrustedPeers)
	})

	t.Run("falls through to next peer", func(t *testing.T) {
		f := newFixture(t, blocks...)
		ref, err := f.bootstrapper().FromTrustedPeers(context.Background(), []Peer{down, f.peer}, f.node.Tip)
		require.NoError(t, err)
		assert.Equal(t, blocks[1].Hash(), ref.Hash())
		assert.Equal(t, 2, f.connector.connects)
	})

	t.Run("all fail", func(t *testing.T) {
		f := newFixture(t, blocks...)
		f.session.readyErr = errors.New("handshake failed")

		_, err := f.bootstrapper().FromTrustedPeers(context.Background(), []Peer{down, f.peer}, f.node.Tip)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConnect))
		assert.ErrorContains(t, err, "connection broken")
		assert.Equal(t, genesis.Hash(), f.node.Tip.GetRef().Hash())
	})

	second, err := ParsePeer("/ip4/127.0.0.2/tcp/3000")
	require.NoError(t, err)

	t.Run("resumes after a partial pull", func(t *testing.T) {
		f := newFixture(t, blocks[0])
		f.session.stream.err = errors.New("stream reset")
		next := &fakeSession{chain: append([]*models.Block{genesis}, blocks...)}
		f.connector.sessions[second.String()] = next

		ref, err := f.bootstrapper().FromTrustedPeers(context.Background(), []Peer{f.peer, second}, f.node.Tip)
		require.NoError(t, err)
		assert.Equal(t, blocks[1].Hash(), ref.Hash())
		assert.Equal(t, blocks[1].Hash(), f.node.Tip.GetRef().Hash())

		require.NotEmpty(t, next.from)
		assert.Equal(t, blocks[0].Hash(), next.from[0])
		assert.Equal(t, genesis.Hash(), next.from[len(next.from)-1])
		assert.Equal(t, hashesOf(blocks...), f.chain.applied)
		assert.Equal(t, 1, f.chain.selections)
	})

	t.Run("resumes onto another branch", func(t *testing.T) {
		f := newFixture(t, blocks[0])
		f.session.stream.err = errors.New("stream reset")
		fork := chaintest.Fork(t, genesis.Header, 3, "other")
		next := &fakeSession{chain: append([]*models.Block{genesis}, fork...)}
		f.connector.sessions[second.String()] = next

		ref, err := f.bootstrapper().FromTrustedPeers(context.Background(), []Peer{f.peer, second}, f.node.Tip)
		require.NoError(t, err)
		assert.Equal(t, fork[2].Hash(), ref.Hash())
		assert.Equal(t, fork[2].Hash(), f.node.Tip.GetRef().Hash())
		assert.Equal(t, hashesOf(blocks[0], fork[0], fork[1], fork[2]), f.chain.applied)
	})

	t.Run("resume outlives a failed connect", func(t *testing.T) {
		f := newFixture(t, blocks[0])
		f.session.stream.err = errors.New("stream reset")
		next := &fakeSession{chain: append([]*models.Block{genesis}, blocks...)}
		f.connector.sessions[second.String()] = next

		ref, err := f.bootstrapper().FromTrustedPeers(context.Background(), []Peer{f.peer, down, second}, f.node.Tip)
		require.NoError(t, err)
		assert.Equal(t, blocks[1].Hash(), ref.Hash())
		assert.Equal(t, blocks[0].Hash(), next.from[0])
	})
}

func TestBootstrapMetrics(t *testing.T) {
	genesis := chaintest.DefaultGenesis(t)
	blocks := chaintest.Extend(t, genesis.Header, 3)
	f := newFixture(t, blocks...)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	b := NewBootstrapper(f.chain, f.connector, metrics, nil)

	_, err := b.FromPeer(context.Background(), f.peer, f.node.Tip)
	require.NoError(t, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.BlocksApplied))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.TipChainLength))

	f.session.stream = &fakeStream{blocks: blocks[:1]}
	_, err = b.FromPeer(context.Background(), f.peer, f.node.Tip)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures.WithLabelValues(KindBlockAlreadyPresent.String())))

	count, err := testutil.GatherAndCount(reg, "chainsync_bootstrap_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
