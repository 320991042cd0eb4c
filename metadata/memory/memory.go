package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shruggr/chainsync/metadata"
	"github.com/shruggr/chainsync/models"
)

var _ metadata.Store = (*Store)(nil)

// Store is an in-memory implementation of metadata.Store
// Suitable for testing and development
type Store struct {
	mu     sync.RWMutex
	blocks map[models.HeaderHash]metadata.BlockMeta
	tags   map[string]models.HeaderHash
}

// New creates a new in-memory metadata store
func New() *Store {
	return &Store{
		blocks: make(map[models.HeaderHash]metadata.BlockMeta),
		tags:   make(map[string]models.HeaderHash),
	}
}

// PutBlock indexes an applied block
func (s *Store) PutBlock(ctx context.Context, meta *metadata.BlockMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[meta.BlockHash]; ok {
		return fmt.Errorf("%w: %s", metadata.ErrBlockExists, meta.BlockHash)
	}
	s.blocks[meta.BlockHash] = *meta
	return nil
}

// GetBlockByHash retrieves block metadata by header hash
func (s *Store) GetBlockByHash(ctx context.Context, hash models.HeaderHash) (*metadata.BlockMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.blocks[hash]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// PutTag points a named tag at a block
func (s *Store) PutTag(ctx context.Context, name string, hash models.HeaderHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags[name] = hash
	return nil
}

// GetTag resolves a named tag
func (s *Store) GetTag(ctx context.Context, name string) (*models.HeaderHash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, ok := s.tags[name]
	if !ok {
		return nil, nil
	}
	return &hash, nil
}

// Close releases any resources
func (s *Store) Close() error {
	return nil
}
