package network

import (
	"context"

	"github.com/shruggr/chainsync/models"
)

// Connector opens sessions to peers
type Connector interface {
	// Connect opens a transport to the peer. The session is not usable until
	// Ready succeeds.
	Connect(ctx context.Context, peer Peer) (Session, error)
}

// Initializer is implemented by connectors that need one-time setup before
// the first Connect
type Initializer interface {
	Init(ctx context.Context) error
}

// Session is a connection to one peer
type Session interface {
	// Ready completes protocol negotiation
	Ready(ctx context.Context) error

	// PullBlocksToTip asks the peer for every block after the first of from
	// that it knows, up to its tip
	PullBlocksToTip(ctx context.Context, from []models.HeaderHash) (BlockStream, error)

	// Close releases the connection
	Close() error
}

// BlockStream yields blocks in chain order
type BlockStream interface {
	// Recv returns the next block, or io.EOF once the stream is exhausted
	Recv() (*models.Block, error)

	// Close abandons the stream
	Close() error
}
