package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shruggr/chainsync/cache"
	"github.com/shruggr/chainsync/models"
)

var _ cache.RefCache = (*Cache)(nil)

// Cache is an in-memory LRU cache for Refs
type Cache struct {
	lru *lru.Cache[models.HeaderHash, *models.Ref]
	mu  sync.RWMutex
}

// New creates a new in-memory LRU cache with the specified size
func New(size int) (*Cache, error) {
	l, err := lru.New[models.HeaderHash, *models.Ref](size)
	if err != nil {
		return nil, err
	}

	return &Cache{
		lru: l,
	}, nil
}

// Get retrieves a cached Ref
func (c *Cache) Get(hash models.HeaderHash) (*models.Ref, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lru.Get(hash)
}

// Put stores a Ref under its own hash
func (c *Cache) Put(ref *models.Ref) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(ref.Hash(), ref)
	return nil
}

// Clear removes all cached entries
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	return nil
}
