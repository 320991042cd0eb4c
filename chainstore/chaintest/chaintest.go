// Package chaintest provides memory-backed chains and block builders for
// tests.
package chaintest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shruggr/chainsync/cache/memory"
	"github.com/shruggr/chainsync/chainstore"
	kvmemory "github.com/shruggr/chainsync/kvstore/memory"
	metamemory "github.com/shruggr/chainsync/metadata/memory"
	"github.com/shruggr/chainsync/models"
)

// ChainID and GenesisTime define the default test chain
const ChainID = "chaintest"

var GenesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultGenesis returns the block0 shared by every default Node
func DefaultGenesis(t testing.TB) *models.Block {
	t.Helper()
	genesis, err := models.NewGenesisBlock(ChainID, GenesisTime)
	require.NoError(t, err)
	return genesis
}

// Node is a chain store backed by memory stores, loaded at its HEAD tip
type Node struct {
	t       testing.TB
	Chain   *chainstore.Blockchain
	Tip     *chainstore.Tip
	Genesis *models.Block
}

// NewNode creates a fresh chain initialized with genesis. A nil config uses
// chainstore defaults.
func NewNode(t testing.TB, genesis *models.Block, config *chainstore.Config) *Node {
	t.Helper()

	refs, err := memory.New(1024)
	require.NoError(t, err)

	chain := chainstore.New(genesis.Hash(), kvmemory.New(), metamemory.New(), refs, config, nil)
	tip, err := chain.Load(context.Background(), genesis)
	require.NoError(t, err)

	t.Cleanup(func() { _ = chain.Close() })

	return &Node{t: t, Chain: chain, Tip: tip, Genesis: genesis}
}

// NewDefaultNode creates a fresh chain on DefaultGenesis
func NewDefaultNode(t testing.TB) *Node {
	t.Helper()
	return NewNode(t, DefaultGenesis(t), nil)
}

// Apply checks and stores blocks in order and returns the last Ref. It fails
// the test on any rejection.
func (n *Node) Apply(blocks ...*models.Block) *models.Ref {
	n.t.Helper()
	ctx := context.Background()

	var last *models.Ref
	for _, block := range blocks {
		pre, err := n.Chain.PreCheckHeader(ctx, block.Header, true)
		require.NoError(n.t, err)

		checked, ok := pre.(chainstore.HeaderWithCache)
		require.Truef(n.t, ok, "block %s pre-checked as %T", block.Hash(), pre)

		post, err := n.Chain.PostCheckHeader(ctx, block.Header, checked.ParentRef)
		require.NoError(n.t, err)

		last, err = n.Chain.ApplyAndStoreBlock(ctx, post, block)
		require.NoError(n.t, err)
	}
	return last
}

// ApplyAndSelect applies blocks and offers the last one as the new tip
func (n *Node) ApplyAndSelect(blocks ...*models.Block) *models.Ref {
	n.t.Helper()
	ref := n.Apply(blocks...)
	require.NoError(n.t, n.Chain.ProcessNewRef(context.Background(), n.Tip, ref))
	return ref
}

// Extend forges n consecutive blocks on top of parent, one slot apart
func Extend(t testing.TB, parent *models.Header, n int) []*models.Block {
	t.Helper()
	return Fork(t, parent, n, "")
}

// Fork is Extend with a salt mixed into each body, so that forks of the same
// parent produce distinct blocks
func Fork(t testing.TB, parent *models.Header, n int, salt string) []*models.Block {
	t.Helper()

	blocks := make([]*models.Block, 0, n)
	for i := 0; i < n; i++ {
		date := models.BlockDate{Epoch: parent.Date.Epoch, Slot: parent.Date.Slot + 1}
		content := []byte(fmt.Sprintf("block %d %s", parent.ChainLength+1, salt))

		block, err := models.NewBlock(parent, date, content)
		require.NoError(t, err)

		blocks = append(blocks, block)
		parent = block.Header
	}
	return blocks
}
