package nodegrpc

import (
	"fmt"

	"github.com/shruggr/chainsync/models"
)

// ProtocolVersion is the sync protocol version this node speaks
const ProtocolVersion uint32 = 1

// HandshakeRequest is the (empty) request for Handshake
type HandshakeRequest struct{}

// HandshakeResponse identifies the serving node's protocol and chain
type HandshakeResponse struct {
	Version uint32 `cramberry:"1"`
	Block0  []byte `cramberry:"2"`
}

// PullBlocksToTipRequest carries the client's checkpoints, newest first
type PullBlocksToTipRequest struct {
	From [][]byte `cramberry:"1"`
}

// Block is one streamed block: canonical header bytes plus the raw body
type Block struct {
	Header  []byte `cramberry:"1"`
	Content []byte `cramberry:"2"`
}

func hashFromBytes(b []byte) (models.HeaderHash, error) {
	var h models.HeaderHash
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid header hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
