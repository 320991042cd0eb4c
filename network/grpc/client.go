package nodegrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	manet "github.com/multiformats/go-multiaddr/net"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shruggr/chainsync/chainstore"
	"github.com/shruggr/chainsync/models"
	"github.com/shruggr/chainsync/network"
)

// ErrUnsupportedVersion is returned by Ready when the peer speaks another
// protocol version
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

var (
	_ network.Connector   = (*Connector)(nil)
	_ network.Initializer = (*Connector)(nil)
	_ network.Session     = (*Client)(nil)
	_ network.BlockStream = (*blockStream)(nil)
)

// Config holds the client-side transport settings
type Config struct {
	Block0         models.HeaderHash // peers must share this genesis
	ConnectTimeout time.Duration     // 0 waits for the caller's context only
	TLSCAFile      string            // empty dials without TLS
}

// Connector dials peers over gRPC
type Connector struct {
	config Config
	creds  credentials.TransportCredentials
	logger *slog.Logger
}

// NewConnector creates a connector. Init must succeed before Connect when a
// TLS CA file is configured.
func NewConnector(config *Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		config: *config,
		logger: logger,
	}
}

// Init loads the transport credentials
func (c *Connector) Init(ctx context.Context) error {
	if c.config.TLSCAFile == "" {
		c.creds = insecure.NewCredentials()
		return nil
	}

	creds, err := credentials.NewClientTLSFromFile(c.config.TLSCAFile, "")
	if err != nil {
		return fmt.Errorf("failed to load TLS CA %s: %w", c.config.TLSCAFile, err)
	}
	c.creds = creds
	return nil
}

// Connect dials the peer and waits until the channel is ready
func (c *Connector) Connect(ctx context.Context, peer network.Peer) (network.Session, error) {
	_, host, err := manet.DialArgs(peer.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address %s: %w", peer, err)
	}

	creds := c.creds
	if creds == nil {
		if c.config.TLSCAFile != "" {
			return nil, errors.New("connector used before Init")
		}
		creds = insecure.NewCredentials()
	}

	cc, err := grpc.NewClient("passthrough:///"+host,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(CramberryCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", peer, err)
	}

	if err := c.waitReady(ctx, cc); err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("peer %s: %w", peer, err)
	}

	c.logger.Debug("connected to peer", "peer", peer.String())
	return &Client{cc: cc, block0: c.config.Block0, peer: peer}, nil
}

func (c *Connector) waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("connection %s", state)
		}

		if !cc.WaitForStateChange(ctx, state) {
			return fmt.Errorf("connection %s: %w", state, ctx.Err())
		}
	}
}

// Client is a session with one peer
type Client struct {
	cc     *grpc.ClientConn
	block0 models.HeaderHash
	peer   network.Peer
}

// Ready performs the handshake and checks the peer serves the same chain
func (c *Client) Ready(ctx context.Context) error {
	resp := new(HandshakeResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Handshake"), &HandshakeRequest{}, resp); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if resp.Version != ProtocolVersion {
		return fmt.Errorf("%w: peer %s speaks %d, expected %d", ErrUnsupportedVersion, c.peer, resp.Version, ProtocolVersion)
	}

	block0, err := hashFromBytes(resp.Block0)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if block0 != c.block0 {
		return fmt.Errorf("%w: peer %s has %s, expected %s", chainstore.ErrBlock0Mismatch, c.peer, block0, c.block0)
	}

	return nil
}

// PullBlocksToTip opens the block stream. The first block is read before
// returning, so a request the peer refuses fails here rather than on Recv.
func (c *Client) PullBlocksToTip(ctx context.Context, from []models.HeaderHash) (network.BlockStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := c.cc.NewStream(ctx, &pullBlocksToTipDesc, fullMethod("PullBlocksToTip"))
	if err != nil {
		cancel()
		return nil, err
	}

	req := &PullBlocksToTipRequest{From: make([][]byte, 0, len(from))}
	for _, h := range from {
		req.From = append(req.From, append([]byte{}, h[:]...))
	}

	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	first := new(Block)
	err = stream.RecvMsg(first)
	if err != nil && !errors.Is(err, io.EOF) {
		cancel()
		return nil, err
	}

	return &blockStream{stream: stream, cancel: cancel, first: first, firstErr: err}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

type blockStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	// read ahead by PullBlocksToTip, handed out by the first Recv
	first    *Block
	firstErr error
}

// Recv returns io.EOF when the server finishes the stream
func (s *blockStream) Recv() (*models.Block, error) {
	msg, err := s.first, s.firstErr
	if msg != nil || err != nil {
		s.first, s.firstErr = nil, nil
	} else {
		msg = new(Block)
		err = s.stream.RecvMsg(msg)
	}
	if err != nil {
		return nil, err
	}

	block, err := models.DecodeBlock(msg.Header, msg.Content)
	if err != nil {
		return nil, fmt.Errorf("malformed block from peer: %w", err)
	}
	return block, nil
}

func (s *blockStream) Close() error {
	s.cancel()
	return nil
}
