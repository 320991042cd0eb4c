// Package network pulls the chain from bootstrap peers and applies it to the
// local chain store.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/shruggr/chainsync/chainstore"
	"github.com/shruggr/chainsync/models"
)

// ErrNoTrustedPeers is returned by FromTrustedPeers when there is no peer to
// try
var ErrNoTrustedPeers = errors.New("no trusted peers configured")

// Blockchain is the chain state driven by a bootstrap.
// *chainstore.Blockchain implements it.
type Blockchain interface {
	Block0() models.HeaderHash
	PreCheckHeader(ctx context.Context, header *models.Header, allowForkFromAnyBranch bool) (chainstore.PreCheckedHeader, error)
	PostCheckHeader(ctx context.Context, header *models.Header, parent *models.Ref) (*chainstore.PostCheckedHeader, error)
	ApplyAndStoreBlock(ctx context.Context, post *chainstore.PostCheckedHeader, block *models.Block) (*models.Ref, error)
	ProcessNewRef(ctx context.Context, tip *chainstore.Tip, candidate *models.Ref) error
	Checkpoints(ctx context.Context, tip *models.Ref) ([]models.HeaderHash, error)
}

var _ Blockchain = (*chainstore.Blockchain)(nil)

// Bootstrapper catches a branch up with the chain served by a peer
type Bootstrapper struct {
	chain     Blockchain
	connector Connector
	metrics   *Metrics
	logger    *slog.Logger

	initMu      sync.Mutex
	initialized bool
}

// NewBootstrapper creates a bootstrapper. metrics may be nil.
func NewBootstrapper(chain Blockchain, connector Connector, metrics *Metrics, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bootstrapper{
		chain:     chain,
		connector: connector,
		metrics:   metrics,
		logger:    logger,
	}
}

// init runs the connector's one-time setup. A failed setup is retried on
// the next bootstrap.
func (b *Bootstrapper) init(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if b.initialized {
		return nil
	}
	if i, ok := b.connector.(Initializer); ok {
		if err := i.Init(ctx); err != nil {
			return err
		}
	}
	b.initialized = true
	return nil
}

// FromPeer pulls every block the peer has past the branch tip, applies them
// in order and selects the result as the new tip. Any failure aborts the
// whole bootstrap; blocks applied before it stay stored but the tip is not
// moved.
func (b *Bootstrapper) FromPeer(ctx context.Context, peer Peer, branch *chainstore.Tip) (*models.Ref, error) {
	result, _, err := b.fromPeer(ctx, peer, branch, nil)
	return result, err
}

// fromPeer is FromPeer resuming from an earlier partial pull. resume, when
// longer than the branch tip, is the last block a failed attempt applied; the
// peer is asked for blocks past it and the fold starts there. On failure the
// last block applied by this attempt is returned alongside the error.
func (b *Bootstrapper) fromPeer(ctx context.Context, peer Peer, branch *chainstore.Tip, resume *models.Ref) (result, applied *models.Ref, err error) {
	start := time.Now()
	defer func() {
		var length uint32
		if result != nil {
			length = branch.GetRef().ChainLength()
		}
		b.metrics.attemptFinished(start, length, err)
	}()

	if err := b.init(ctx); err != nil {
		return nil, nil, newError(KindRuntimeInit, err)
	}

	b.logger.Info("connecting to bootstrap peer", "peer", peer.String())

	session, err := b.connector.Connect(ctx, peer)
	if err != nil {
		return nil, nil, newError(KindConnect, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			b.logger.Warn("failed to close bootstrap session", "peer", peer.String(), "error", cerr)
		}
	}()

	if err := session.Ready(ctx); err != nil {
		return nil, nil, newError(KindClientNotReady, err)
	}

	tip := branch.GetRef()
	if resume != nil && resume.ChainLength() > tip.ChainLength() {
		tip = resume
	}
	b.logger.Debug("pulling blocks starting from", "hash", tip.Hash(), "chain_length", tip.ChainLength())

	from, err := b.chain.Checkpoints(ctx, tip)
	if err != nil {
		return nil, nil, newError(KindPullRequestFailed, err)
	}

	stream, err := session.PullBlocksToTip(ctx, from)
	if err != nil {
		return nil, nil, newError(KindPullRequestFailed, err)
	}

	result, err = b.bootstrapFromStream(ctx, tip, stream)
	if err != nil {
		return nil, result, err
	}

	if err := b.chain.ProcessNewRef(ctx, branch, result); err != nil {
		return nil, nil, newError(KindChainSelectionFailed, err)
	}

	b.logger.Info("bootstrap complete",
		"peer", peer.String(),
		"hash", result.Hash(),
		"chain_length", result.ChainLength(),
	)
	return result, nil, nil
}

// bootstrapFromStream folds the stream into the chain starting at tip and
// returns the Ref of the last applied block, or tip if nothing was applied.
// On failure the Ref of the last applied block, if any, is returned with the
// error. block0 is skipped wherever it appears. Cancellation is only observed
// between blocks.
func (b *Bootstrapper) bootstrapFromStream(ctx context.Context, tip *models.Ref, stream BlockStream) (*models.Ref, error) {
	defer func() {
		if err := stream.Close(); err != nil {
			b.logger.Debug("failed to close block stream", "error", err)
		}
	}()

	var applied *models.Ref
	block0 := b.chain.Block0()
	for {
		if err := ctx.Err(); err != nil {
			return applied, newError(KindPullStreamFailed, err)
		}

		block, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return tip, nil
		}
		if err != nil {
			return applied, newError(KindPullStreamFailed, err)
		}

		if block.Hash() == block0 {
			continue
		}

		ref, err := b.handleBlock(context.WithoutCancel(ctx), block)
		if err != nil {
			return applied, err
		}
		tip, applied = ref, ref
	}
}

// handleBlock classifies, validates and applies a single block
func (b *Bootstrapper) handleBlock(ctx context.Context, block *models.Block) (*models.Ref, error) {
	header := block.Header

	pre, err := b.chain.PreCheckHeader(ctx, header, true)
	if err != nil {
		return nil, newError(KindHeaderCheckFailed, err)
	}

	var parent *models.Ref
	switch p := pre.(type) {
	case chainstore.AlreadyPresent:
		return nil, blockError(KindBlockAlreadyPresent, p.Header.Hash())
	case chainstore.MissingParent:
		return nil, blockError(KindBlockMissingParent, p.Header.Hash())
	case chainstore.HeaderWithCache:
		parent = p.ParentRef
	default:
		return nil, newError(KindHeaderCheckFailed, fmt.Errorf("unexpected pre-check result %T", pre))
	}

	post, err := b.chain.PostCheckHeader(ctx, header, parent)
	if err != nil {
		return nil, newError(KindHeaderCheckFailed, err)
	}

	b.logger.Debug("validated block",
		"hash", post.Header().Hash(),
		"block_date", post.Header().Date.String(),
	)

	ref, err := b.chain.ApplyAndStoreBlock(ctx, post, block)
	if err != nil {
		return nil, newError(KindApplyBlockFailed, err)
	}

	b.metrics.blockApplied()
	return ref, nil
}

// FromTrustedPeers bootstraps from the first peer that succeeds, trying them
// in order. Blocks a failed attempt applied are not pulled again: the next
// peer is asked for blocks past them. When every peer fails the attempts are
// returned together.
func (b *Bootstrapper) FromTrustedPeers(ctx context.Context, peers []Peer, branch *chainstore.Tip) (*models.Ref, error) {
	if len(peers) == 0 {
		return nil, ErrNoTrustedPeers
	}

	var (
		result *multierror.Error
		resume *models.Ref
	)
	for _, peer := range peers {
		ref, applied, err := b.fromPeer(ctx, peer, branch, resume)
		if err == nil {
			return ref, nil
		}

		b.logger.Warn("bootstrap from trusted peer failed", "peer", peer.String(), "error", err)
		result = multierror.Append(result, fmt.Errorf("peer %s: %w", peer, err))

		if applied != nil {
			resume = applied
			b.logger.Debug("resuming from partially pulled chain", "hash", applied.Hash(), "chain_length", applied.ChainLength())
		}

		if ctx.Err() != nil {
			break
		}
	}

	return nil, result.ErrorOrNil()
}
