package network

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Peer is a bootstrap peer, dialed at Address
type Peer struct {
	Address ma.Multiaddr

	// ID is the /p2p component of the configured address. It only labels
	// the peer in logs and errors; the transport does not authenticate it.
	ID peer.ID
}

// ParsePeer parses a multiaddr such as /ip4/10.0.0.1/tcp/3000 or
// /dns4/node.example/tcp/3000/p2p/<id>
func ParsePeer(s string) (Peer, error) {
	addr, err := ma.NewMultiaddr(strings.TrimSpace(s))
	if err != nil {
		return Peer{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}

	transport, id := peer.SplitAddr(addr)
	if len(transport) == 0 {
		return Peer{}, fmt.Errorf("peer address %q has no transport", s)
	}
	if _, _, err := manet.DialArgs(transport); err != nil {
		return Peer{}, fmt.Errorf("peer address %q is not dialable: %w", s, err)
	}

	return Peer{Address: transport, ID: id}, nil
}

// ParsePeers parses a list of peer addresses, skipping blank entries
func ParsePeers(addrs []string) ([]Peer, error) {
	peers := make([]Peer, 0, len(addrs))
	for _, s := range addrs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		p, err := ParsePeer(s)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

func (p Peer) String() string {
	if p.ID == "" {
		return p.Address.String()
	}
	return p.Address.String() + "/p2p/" + p.ID.String()
}
