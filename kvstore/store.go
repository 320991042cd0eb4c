package kvstore

import (
	"context"
)

// KVStore defines a generic key-value store interface
// Keys are variable-length byte slices; block bodies are keyed by the
// 34-byte multihash of their header hash (see multihash.BlockKey)
type KVStore interface {
	// Put stores a key-value pair
	Put(ctx context.Context, key []byte, value []byte) error

	// Get retrieves a value by key
	// Returns nil if key doesn't exist
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Delete removes a key-value pair
	Delete(ctx context.Context, key []byte) error

	// Close releases any resources
	Close() error
}
