package multihash

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	mh "github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake3"
)

// ContentHash wraps a BLAKE3 multihash of a block body
// Format: <0x1e><0x20><32 bytes> = 34 bytes total
type ContentHash []byte

// NewContentHash creates a BLAKE3 multihash from data
func NewContentHash(data []byte) (ContentHash, error) {
	h, err := mh.Sum(data, mh.BLAKE3, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to hash data: %w", err)
	}
	return ContentHash(h), nil
}

// Verify checks that the hash matches the provided data
func (h ContentHash) Verify(data []byte) error {
	decoded, err := mh.Decode(mh.Multihash(h))
	if err != nil {
		return fmt.Errorf("invalid multihash: %w", err)
	}

	if decoded.Code != mh.BLAKE3 {
		return fmt.Errorf("expected BLAKE3 hash, got 0x%x", decoded.Code)
	}

	computed, err := mh.Sum(data, decoded.Code, decoded.Length)
	if err != nil {
		return fmt.Errorf("hash computation failed: %w", err)
	}

	if !bytes.Equal(computed, h) {
		return fmt.Errorf("hash verification failed")
	}

	return nil
}

// BlockKey wraps a header hash as a BLAKE3 multihash. Block bodies are stored
// in the KV store under this 34-byte key.
type BlockKey []byte

// WrapHeaderHash wraps a chainhash.Hash as a multihash
func WrapHeaderHash(hash chainhash.Hash) (BlockKey, error) {
	h, err := mh.Encode(hash[:], mh.BLAKE3)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hash: %w", err)
	}
	return BlockKey(h), nil
}
