package chainstore

import (
	"context"
	"fmt"

	"github.com/shruggr/chainsync/models"
)

// PreCheckedHeader classifies an incoming header against local state.
// It is one of AlreadyPresent, MissingParent or HeaderWithCache.
type PreCheckedHeader interface {
	preChecked()
}

// AlreadyPresent means the header's hash is already applied
type AlreadyPresent struct {
	Header *models.Header
	Ref    *models.Ref
}

// MissingParent means the header's parent is not known locally
type MissingParent struct {
	Header *models.Header
	Parent models.HeaderHash
}

// HeaderWithCache means the header is new and its parent is applied
type HeaderWithCache struct {
	Header    *models.Header
	ParentRef *models.Ref
}

func (AlreadyPresent) preChecked()  {}
func (MissingParent) preChecked()   {}
func (HeaderWithCache) preChecked() {}

// PreCheckHeader classifies header without validating it. When
// allowForkFromAnyBranch is false the parent must still be in the hot Ref
// cache; otherwise durable storage is searched as well. Only storage faults
// are returned as errors.
func (b *Blockchain) PreCheckHeader(ctx context.Context, header *models.Header, allowForkFromAnyBranch bool) (PreCheckedHeader, error) {
	hash := header.Hash()

	present, err := b.GetRef(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up block %s: %w", hash, err)
	}
	if present != nil {
		return AlreadyPresent{Header: header, Ref: present}, nil
	}

	var parent *models.Ref
	if allowForkFromAnyBranch {
		parent, err = b.GetRef(ctx, header.Parent)
		if err != nil {
			return nil, fmt.Errorf("failed to look up parent %s: %w", header.Parent, err)
		}
	} else if ref, ok := b.refs.Get(header.Parent); ok {
		parent = ref
	}

	if parent == nil {
		return MissingParent{Header: header, Parent: header.Parent}, nil
	}

	return HeaderWithCache{Header: header, ParentRef: parent}, nil
}
