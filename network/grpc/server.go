package nodegrpc

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shruggr/chainsync/chainstore"
	"github.com/shruggr/chainsync/models"
)

var _ NodeServer = (*Server)(nil)

// Server serves the local chain, up to a branch tip, to syncing peers
type Server struct {
	chain  *chainstore.Blockchain
	tip    *chainstore.Tip
	logger *slog.Logger
}

// NewServer creates a Node service over chain and tip
func NewServer(chain *chainstore.Blockchain, tip *chainstore.Tip, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{chain: chain, tip: tip, logger: logger}
}

// Register adds the Node service to a gRPC server
func (s *Server) Register(gs *grpc.Server) {
	RegisterNodeServer(gs, s)
}

// Serve starts a gRPC server on lis and blocks until it stops
func (s *Server) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

func (s *Server) Handshake(ctx context.Context, _ *HandshakeRequest) (*HandshakeResponse, error) {
	block0 := s.chain.Block0()
	return &HandshakeResponse{Version: ProtocolVersion, Block0: block0[:]}, nil
}

// PullBlocksToTip streams the blocks after the client's newest checkpoint on
// this node's branch up to the current tip. A client whose checkpoints are
// all unknown gets NotFound and nothing else; one already holding the tip
// gets an empty stream.
func (s *Server) PullBlocksToTip(req *PullBlocksToTipRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()

	from := make([]models.HeaderHash, 0, len(req.From))
	for _, raw := range req.From {
		h, err := hashFromBytes(raw)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		from = append(from, h)
	}

	tip := s.tip.GetRef()
	hashes, err := s.chain.BlocksToTip(ctx, from, tip)
	if errors.Is(err, chainstore.ErrNoCommonAncestor) {
		s.logger.Debug("no checkpoint on served branch", "tip", tip.Hash(), "checkpoints", len(from))
		return status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		s.logger.Error("failed to walk chain", "tip", tip.Hash(), "error", err)
		return status.Error(codes.Internal, err.Error())
	}

	s.logger.Debug("serving blocks to tip", "tip", tip.Hash(), "count", len(hashes))

	for _, h := range hashes {
		block, err := s.chain.GetBlock(ctx, h)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if block == nil {
			return status.Errorf(codes.NotFound, "block %s is indexed but not stored", h)
		}

		if err := stream.SendMsg(&Block{Header: block.Header.Bytes(), Content: block.Content}); err != nil {
			return err
		}
	}

	return nil
}
