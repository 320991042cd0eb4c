package chainstore

import (
	"context"
	"fmt"

	"github.com/shruggr/chainsync/models"
)

// HeaderVerifier is a consensus eligibility hook run as the last post-check
// rule
type HeaderVerifier interface {
	VerifyHeader(ctx context.Context, header *models.Header, parent *models.Ref) error
}

// PostCheckedHeader is a header that passed every validation rule against its
// parent. It can only be obtained from PostCheckHeader.
type PostCheckedHeader struct {
	header *models.Header
	parent *models.Ref
}

func (p *PostCheckedHeader) Header() *models.Header {
	return p.header
}

func (p *PostCheckedHeader) Parent() *models.Ref {
	return p.parent
}

// PostCheckHeader validates header against its parent and the chain rules.
// Rule violations wrap ErrInvalidHeader.
func (b *Blockchain) PostCheckHeader(ctx context.Context, header *models.Header, parent *models.Ref) (*PostCheckedHeader, error) {
	hash := header.Hash()

	if header.Version != models.HeaderVersion {
		return nil, fmt.Errorf("%w: block %s has unsupported version %d", ErrInvalidHeader, hash, header.Version)
	}
	if header.Parent != parent.Hash() {
		return nil, fmt.Errorf("%w: block %s parent %s does not match %s", ErrInvalidHeader, hash, header.Parent, parent.Hash())
	}
	if header.ChainLength != parent.ChainLength()+1 {
		return nil, fmt.Errorf("%w: block %s chain length %d does not follow parent %d", ErrInvalidHeader, hash, header.ChainLength, parent.ChainLength())
	}
	if !parent.BlockDate().Less(header.Date) {
		return nil, fmt.Errorf("%w: block %s date %s is not after parent date %s", ErrInvalidHeader, hash, header.Date, parent.BlockDate())
	}
	if b.config.SlotsPerEpoch > 0 && header.Date.Slot >= b.config.SlotsPerEpoch {
		return nil, fmt.Errorf("%w: block %s slot %d out of range (%d slots per epoch)", ErrInvalidHeader, hash, header.Date.Slot, b.config.SlotsPerEpoch)
	}
	if b.config.MaxContentSize > 0 && header.ContentSize > b.config.MaxContentSize {
		return nil, fmt.Errorf("%w: block %s content size %d exceeds %d", ErrInvalidHeader, hash, header.ContentSize, b.config.MaxContentSize)
	}

	if b.config.Verifier != nil {
		if err := b.config.Verifier.VerifyHeader(ctx, header, parent); err != nil {
			return nil, fmt.Errorf("%w: block %s rejected: %w", ErrInvalidHeader, hash, err)
		}
	}

	return &PostCheckedHeader{header: header, parent: parent}, nil
}
