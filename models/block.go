package models

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shruggr/chainsync/multihash"
)

// Block is a header plus an opaque body. A block's identity is its header hash.
type Block struct {
	Header  *Header
	Content []byte
}

// DecodeBlock builds a block from its wire parts: the canonical header bytes
// and the raw body
func DecodeBlock(header []byte, content []byte) (*Block, error) {
	h, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}
	return &Block{Header: h, Content: content}, nil
}

// ParseBlock decodes the storage encoding produced by Bytes
func ParseBlock(b []byte) (*Block, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("block too short: got %d bytes, need at least %d", len(b), HeaderSize)
	}
	return DecodeBlock(b[:HeaderSize], append([]byte{}, b[HeaderSize:]...))
}

// Bytes returns header || content
func (b *Block) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(b.Content))
	out = append(out, b.Header.Bytes()...)
	return append(out, b.Content...)
}

// Hash returns the block's header hash
func (b *Block) Hash() HeaderHash {
	return b.Header.Hash()
}

// NewBlock forges a child of parent at the given date
func NewBlock(parent *Header, date BlockDate, content []byte) (*Block, error) {
	return newBlock(parent.Hash(), parent.ChainLength+1, date, content)
}

// NewGenesisBlock builds the deterministic root block of a chain. Nodes
// configured with the same chain id and start time derive the same block0.
func NewGenesisBlock(chainID string, start time.Time) (*Block, error) {
	content := make([]byte, 8, 8+len(chainID))
	binary.LittleEndian.PutUint64(content, uint64(start.Unix()))
	content = append(content, chainID...)

	return newBlock(HeaderHash{}, 0, BlockDate{}, content)
}

func newBlock(parent HeaderHash, chainLength uint32, date BlockDate, content []byte) (*Block, error) {
	contentHash, err := multihash.NewContentHash(content)
	if err != nil {
		return nil, err
	}

	h := &Header{
		Version:     HeaderVersion,
		Parent:      parent,
		Date:        date,
		ChainLength: chainLength,
		ContentSize: uint32(len(content)),
	}
	copy(h.ContentHash[:], contentHash)

	return &Block{Header: h.seal(), Content: content}, nil
}
