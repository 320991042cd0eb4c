package chainstore

import (
	"context"
	"fmt"

	"github.com/shruggr/chainsync/models"
	"github.com/shruggr/chainsync/multihash"
)

// ApplyAndStoreBlock stores a validated block and returns its Ref. The block
// must carry the exact header that was post-checked.
func (b *Blockchain) ApplyAndStoreBlock(ctx context.Context, post *PostCheckedHeader, block *models.Block) (*models.Ref, error) {
	header := post.Header()
	hash := header.Hash()

	if block.Hash() != hash {
		return nil, fmt.Errorf("%w: block %s was checked as %s", ErrInvalidHeader, block.Hash(), hash)
	}
	if uint32(len(block.Content)) != header.ContentSize {
		return nil, fmt.Errorf("%w: block %s has %d content bytes, header declares %d", ErrContentMismatch, hash, len(block.Content), header.ContentSize)
	}
	if err := multihash.ContentHash(header.ContentHash[:]).Verify(block.Content); err != nil {
		return nil, fmt.Errorf("%w: block %s: %w", ErrContentMismatch, hash, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.meta.GetBlockByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up block %s: %w", hash, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockExists, hash)
	}

	if err := b.store(ctx, block); err != nil {
		return nil, err
	}

	ref := models.NewRef(header)
	b.cacheRef(ref)

	b.logger.Debug("applied block", "hash", hash, "chain_length", header.ChainLength)
	return ref, nil
}
