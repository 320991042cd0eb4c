package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shruggr/chainsync/multihash"
)

func TestGenesisIsDeterministic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := NewGenesisBlock("testnet", start)
	require.NoError(t, err)
	b, err := NewGenesisBlock("testnet", start)
	require.NoError(t, err)
	c, err := NewGenesisBlock("mainnet", start)
	require.NoError(t, err)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Equal(t, uint32(0), a.Header.ChainLength)
	assert.Equal(t, HeaderHash{}, a.Header.Parent)
}

func TestHeaderEncoding(t *testing.T) {
	genesis, err := NewGenesisBlock("testnet", time.Unix(1700000000, 0))
	require.NoError(t, err)

	child, err := NewBlock(genesis.Header, BlockDate{Epoch: 0, Slot: 7}, []byte("payload"))
	require.NoError(t, err)

	raw := child.Header.Bytes()
	require.Len(t, raw, HeaderSize)

	parsed, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, child.Hash(), parsed.Hash())
	assert.Equal(t, genesis.Hash(), parsed.Parent)
	assert.Equal(t, uint32(1), parsed.ChainLength)
	assert.Equal(t, BlockDate{Epoch: 0, Slot: 7}, parsed.Date)
	assert.Equal(t, uint32(len("payload")), parsed.ContentSize)
	assert.NoError(t, multihash.ContentHash(parsed.ContentHash[:]).Verify([]byte("payload")))
}

func TestParseHeaderInvalidLength(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderSize-1))
	assert.Error(t, err)
}

func TestBlockStorageEncoding(t *testing.T) {
	genesis, err := NewGenesisBlock("testnet", time.Unix(1700000000, 0))
	require.NoError(t, err)

	decoded, err := ParseBlock(genesis.Bytes())
	require.NoError(t, err)
	assert.Equal(t, genesis.Hash(), decoded.Hash())
	assert.Equal(t, genesis.Content, decoded.Content)

	_, err = ParseBlock([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBlockDateOrdering(t *testing.T) {
	assert.True(t, BlockDate{Epoch: 0, Slot: 5}.Less(BlockDate{Epoch: 1, Slot: 0}))
	assert.True(t, BlockDate{Epoch: 1, Slot: 1}.Less(BlockDate{Epoch: 1, Slot: 2}))
	assert.False(t, BlockDate{Epoch: 1, Slot: 2}.Less(BlockDate{Epoch: 1, Slot: 2}))
	assert.False(t, BlockDate{Epoch: 2, Slot: 0}.Less(BlockDate{Epoch: 1, Slot: 9}))
	assert.Equal(t, "3.14", BlockDate{Epoch: 3, Slot: 14}.String())
}

func TestRefAccessors(t *testing.T) {
	genesis, err := NewGenesisBlock("testnet", time.Unix(1700000000, 0))
	require.NoError(t, err)
	child, err := NewBlock(genesis.Header, BlockDate{Slot: 1}, nil)
	require.NoError(t, err)

	ref := NewRef(child.Header)
	assert.Equal(t, child.Hash(), ref.Hash())
	assert.Equal(t, genesis.Hash(), ref.ParentHash())
	assert.Equal(t, uint32(1), ref.ChainLength())
	assert.Equal(t, BlockDate{Slot: 1}, ref.BlockDate())
}
