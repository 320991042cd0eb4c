package cache

import (
	"github.com/shruggr/chainsync/models"
)

// RefCache keeps recently applied Refs hot so parent lookups during a pull
// do not go back to the metadata store
type RefCache interface {
	// Get retrieves a cached Ref
	// Returns false if not cached
	Get(hash models.HeaderHash) (*models.Ref, bool)

	// Put stores a Ref under its own hash
	Put(ref *models.Ref) error

	// Clear removes all cached entries
	Clear() error
}
