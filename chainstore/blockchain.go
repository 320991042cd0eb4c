// Package chainstore owns the locally applied chain: it classifies and
// validates incoming headers, stores blocks, and selects branch tips.
package chainstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/shruggr/chainsync/cache"
	"github.com/shruggr/chainsync/kvstore"
	"github.com/shruggr/chainsync/metadata"
	"github.com/shruggr/chainsync/models"
	"github.com/shruggr/chainsync/multihash"
)

// Config holds the chain rules enforced by PostCheckHeader
type Config struct {
	SlotsPerEpoch  uint32         // 0 disables the slot bound
	MaxContentSize uint32         // 0 disables the body size bound
	Verifier       HeaderVerifier // optional consensus eligibility check
}

// Blockchain is the chain state store. Block bodies live in a KVStore, the
// index and tags in a metadata.Store, and hot Refs in a RefCache. It is safe
// for concurrent use; applies are serialized.
type Blockchain struct {
	block0 models.HeaderHash
	blocks kvstore.KVStore
	meta   metadata.Store
	refs   cache.RefCache
	config Config
	logger *slog.Logger

	mu sync.Mutex // serializes ApplyAndStoreBlock
}

// New creates a chain state store anchored at block0
func New(block0 models.HeaderHash, blocks kvstore.KVStore, meta metadata.Store, refs cache.RefCache, config *Config, logger *slog.Logger) *Blockchain {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Blockchain{
		block0: block0,
		blocks: blocks,
		meta:   meta,
		refs:   refs,
		config: *config,
		logger: logger,
	}
}

// Block0 returns the genesis anchor
func (b *Blockchain) Block0() models.HeaderHash {
	return b.block0
}

// Load opens the chain and returns the HEAD tip. A fresh store is initialized
// with the genesis block; an existing one resumes from its HEAD tag.
func (b *Blockchain) Load(ctx context.Context, genesis *models.Block) (*Tip, error) {
	if genesis.Hash() != b.block0 {
		return nil, fmt.Errorf("%w: genesis hashes to %s, expected %s", ErrBlock0Mismatch, genesis.Hash(), b.block0)
	}

	head, err := b.meta.GetTag(ctx, metadata.TagHead)
	if err != nil {
		return nil, err
	}

	if head == nil {
		ref, err := b.storeGenesis(ctx, genesis)
		if err != nil {
			return nil, err
		}
		b.logger.Info("initialized chain from block0", "block0", b.block0)
		return NewTip(metadata.TagHead, ref), nil
	}

	ref, err := b.GetRef(ctx, *head)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: HEAD points at %s", ErrRefNotFound, *head)
	}

	b.logger.Info("loaded chain from storage", "head", ref.Hash(), "chain_length", ref.ChainLength())
	return NewTip(metadata.TagHead, ref), nil
}

func (b *Blockchain) storeGenesis(ctx context.Context, genesis *models.Block) (*models.Ref, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store(ctx, genesis); err != nil && !errors.Is(err, ErrBlockExists) {
		return nil, err
	}
	if err := b.meta.PutTag(ctx, metadata.TagHead, b.block0); err != nil {
		return nil, err
	}

	ref := models.NewRef(genesis.Header)
	b.cacheRef(ref)
	return ref, nil
}

// store writes the body and then the index row. The index row is the commit
// point: a block without one is invisible, so a failed insert only leaves
// unreachable bytes behind, which are removed on a best-effort basis.
// Callers hold b.mu.
func (b *Blockchain) store(ctx context.Context, block *models.Block) error {
	header := block.Header
	hash := header.Hash()

	key, err := multihash.WrapHeaderHash(hash)
	if err != nil {
		return err
	}

	if err := b.blocks.Put(ctx, key, block.Bytes()); err != nil {
		return fmt.Errorf("failed to store block %s: %w", hash, err)
	}

	err = b.meta.PutBlock(ctx, &metadata.BlockMeta{
		BlockHash:   hash,
		ParentHash:  header.Parent,
		ChainLength: header.ChainLength,
		Date:        header.Date,
		Header:      header.Bytes(),
	})
	if errors.Is(err, metadata.ErrBlockExists) {
		return fmt.Errorf("%w: %s", ErrBlockExists, hash)
	}
	if err != nil {
		if delErr := b.blocks.Delete(ctx, key); delErr != nil {
			b.logger.Warn("failed to remove unindexed block", "hash", hash, "error", delErr)
		}
		return fmt.Errorf("failed to index block %s: %w", hash, err)
	}

	return nil
}

// GetRef resolves an applied block by hash, through the cache first
// Returns nil if the block is not stored
func (b *Blockchain) GetRef(ctx context.Context, hash models.HeaderHash) (*models.Ref, error) {
	if ref, ok := b.refs.Get(hash); ok {
		return ref, nil
	}

	meta, err := b.meta.GetBlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	header, err := models.ParseHeader(meta.Header)
	if err != nil {
		return nil, fmt.Errorf("corrupt index entry for %s: %w", hash, err)
	}

	ref := models.NewRef(header)
	b.cacheRef(ref)
	return ref, nil
}

// cacheRef is best effort: a Ref missing from the cache is reloaded from the
// index on the next lookup
func (b *Blockchain) cacheRef(ref *models.Ref) {
	if err := b.refs.Put(ref); err != nil {
		b.logger.Warn("failed to cache ref", "hash", ref.Hash(), "error", err)
	}
}

// GetBlock loads a stored block
// Returns nil if the block is not stored
func (b *Blockchain) GetBlock(ctx context.Context, hash models.HeaderHash) (*models.Block, error) {
	key, err := multihash.WrapHeaderHash(hash)
	if err != nil {
		return nil, err
	}

	raw, err := b.blocks.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load block %s: %w", hash, err)
	}
	if raw == nil {
		return nil, nil
	}

	return models.ParseBlock(raw)
}

// Close drops the cached Refs and releases both underlying stores
func (b *Blockchain) Close() error {
	var result *multierror.Error
	if err := b.refs.Clear(); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear ref cache: %w", err))
	}
	if err := b.blocks.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close block store: %w", err))
	}
	if err := b.meta.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close metadata store: %w", err))
	}
	return result.ErrorOrNil()
}
