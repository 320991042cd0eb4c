package chainstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/shruggr/chainsync/models"
)

// denseCheckpoints is how many of the newest blocks Checkpoints lists one by
// one before the gaps start doubling
const denseCheckpoints = 10

// BlocksToTip returns the hashes a peer asking from the given checkpoints is
// missing, oldest first and ending at tip. The walk stops at the nearest
// ancestor of tip found in from. When the walk reaches block0 without
// meeting one, ErrNoCommonAncestor is returned.
func (b *Blockchain) BlocksToTip(ctx context.Context, from []models.HeaderHash, tip *models.Ref) ([]models.HeaderHash, error) {
	checkpoints := make(map[models.HeaderHash]struct{}, len(from))
	for _, h := range from {
		checkpoints[h] = struct{}{}
	}

	var hashes []models.HeaderHash
	cur := tip
	for {
		if _, ok := checkpoints[cur.Hash()]; ok {
			break
		}
		if cur.Hash() == b.block0 {
			return nil, fmt.Errorf("%w: none of %d checkpoints is on the branch ending at %s", ErrNoCommonAncestor, len(from), tip.Hash())
		}
		hashes = append(hashes, cur.Hash())

		parent, err := b.parentOf(ctx, cur)
		if err != nil {
			return nil, err
		}
		cur = parent
	}

	slices.Reverse(hashes)
	return hashes, nil
}

// Checkpoints describes the branch ending at tip to a serving peer, newest
// first: tip and its closest ancestors one by one, then ancestors at doubling
// distances, always ending with block0. A peer that shares any part of the
// branch finds a common ancestor close to its own tip.
func (b *Blockchain) Checkpoints(ctx context.Context, tip *models.Ref) ([]models.HeaderHash, error) {
	var hashes []models.HeaderHash
	step := uint32(1)
	next := tip.ChainLength()

	cur := tip
	for {
		if cur.ChainLength() == next {
			hashes = append(hashes, cur.Hash())
			if len(hashes) >= denseCheckpoints {
				step *= 2
			}
			if next > step {
				next -= step
			} else {
				next = 0
			}
		}
		if cur.Hash() == b.block0 {
			break
		}

		parent, err := b.parentOf(ctx, cur)
		if err != nil {
			return nil, err
		}
		cur = parent
	}

	if hashes[len(hashes)-1] != b.block0 {
		hashes = append(hashes, b.block0)
	}
	return hashes, nil
}

func (b *Blockchain) parentOf(ctx context.Context, ref *models.Ref) (*models.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parent, err := b.GetRef(ctx, ref.ParentHash())
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent %s of %s", ErrRefNotFound, ref.ParentHash(), ref.Hash())
	}
	return parent, nil
}
