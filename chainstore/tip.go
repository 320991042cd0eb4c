package chainstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shruggr/chainsync/models"
)

// Tip is the current head of a branch. Reads are lock-free; selection is
// serialized per tip.
type Tip struct {
	tag string // metadata tag persisted on selection, empty for none
	mu  sync.Mutex
	ref atomic.Pointer[models.Ref]
}

// NewTip creates a tip at ref. A non-empty tag is kept pointing at the tip
// in the metadata store.
func NewTip(tag string, ref *models.Ref) *Tip {
	t := &Tip{tag: tag}
	t.ref.Store(ref)
	return t
}

// GetRef returns the current tip
func (t *Tip) GetRef() *models.Ref {
	return t.ref.Load()
}

// ProcessNewRef offers candidate as the new tip. The tip only moves to a
// strictly longer chain; the current ref and shorter or equal candidates are
// no-ops. Store faults leave the tip unchanged.
func (b *Blockchain) ProcessNewRef(ctx context.Context, tip *Tip, candidate *models.Ref) error {
	tip.mu.Lock()
	defer tip.mu.Unlock()

	current := tip.ref.Load()
	if current.Hash() == candidate.Hash() {
		return nil
	}
	if candidate.ChainLength() <= current.ChainLength() {
		b.logger.Debug("keeping current tip",
			"tip", current.Hash(),
			"candidate", candidate.Hash(),
			"candidate_chain_length", candidate.ChainLength(),
		)
		return nil
	}

	stored, err := b.GetRef(ctx, candidate.Hash())
	if err != nil {
		return fmt.Errorf("failed to look up candidate %s: %w", candidate.Hash(), err)
	}
	if stored == nil {
		return fmt.Errorf("%w: candidate %s", ErrRefNotFound, candidate.Hash())
	}

	if tip.tag != "" {
		if err := b.meta.PutTag(ctx, tip.tag, candidate.Hash()); err != nil {
			return fmt.Errorf("failed to update %s: %w", tip.tag, err)
		}
	}

	tip.ref.Store(candidate)
	b.logger.Info("selected new tip",
		"hash", candidate.Hash(),
		"chain_length", candidate.ChainLength(),
		"block_date", candidate.BlockDate().String(),
	)
	return nil
}
