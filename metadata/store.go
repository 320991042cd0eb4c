package metadata

import (
	"context"
	"errors"

	"github.com/shruggr/chainsync/models"
)

// TagHead names the tag that records the node's selected tip
const TagHead = "HEAD"

// ErrBlockExists is returned by PutBlock when the hash is already indexed
var ErrBlockExists = errors.New("block already indexed")

// BlockMeta is the index row of an applied block
// The block body is stored in the KVStore under multihash.BlockKey(BlockHash);
// the row itself is the commit point that makes a block visible
type BlockMeta struct {
	BlockHash   models.HeaderHash
	ParentHash  models.HeaderHash
	ChainLength uint32
	Date        models.BlockDate
	Header      []byte // canonical header bytes
}

// Store defines the interface for the chain index
type Store interface {
	// PutBlock indexes an applied block
	// Returns ErrBlockExists if the hash is already indexed
	PutBlock(ctx context.Context, meta *BlockMeta) error

	// GetBlockByHash retrieves block metadata by header hash
	// Returns nil if the block is not indexed
	GetBlockByHash(ctx context.Context, hash models.HeaderHash) (*BlockMeta, error)

	// PutTag points a named tag at a block
	PutTag(ctx context.Context, name string, hash models.HeaderHash) error

	// GetTag resolves a named tag
	// Returns nil if the tag is not set
	GetTag(ctx context.Context, name string) (*models.HeaderHash, error)

	// Close releases any resources
	Close() error
}
