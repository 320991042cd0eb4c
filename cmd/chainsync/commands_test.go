package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/shruggr/chainsync/chainstore/chaintest"
	nodegrpc "github.com/shruggr/chainsync/network/grpc"
)

// startPeer serves a chaintest chain of n blocks and returns its multiaddr
// and tip hash
func startPeer(t *testing.T, n int) (string, string) {
	t.Helper()

	node := chaintest.NewDefaultNode(t)
	tip := node.ApplyAndSelect(chaintest.Extend(t, node.Genesis.Header, n)...)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer()
	nodegrpc.NewServer(node.Chain, node.Tip, nil).Register(s)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	port := lis.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", port), tip.Hash().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	base := []string{
		"--storage=memory",
		"--chain-id=" + chaintest.ChainID,
		"--genesis-time=" + chaintest.GenesisTime.Format("2006-01-02T15:04:05Z07:00"),
		"--log-level=error",
	}

	var out bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(append(base, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBootstrapCommand(t *testing.T) {
	addr, tip := startPeer(t, 4)

	out, err := execute(t, "--trusted-peers=/ip4/127.0.0.1/tcp/1,"+addr, "--connect-timeout=2s", "bootstrap")
	require.NoError(t, err)
	assert.Contains(t, out, "tip "+tip+" chain_length 4")
}

func TestBootstrapCommandWithoutPeers(t *testing.T) {
	_, err := execute(t, "bootstrap")
	assert.Error(t, err)
}

func TestCheckPeerCommand(t *testing.T) {
	addr, tip := startPeer(t, 2)

	out, err := execute(t, "checkpeer", addr, "--count")
	require.NoError(t, err)
	assert.Contains(t, out, "peer "+addr+" serves block0")
	assert.Contains(t, out, "peer tip "+tip+" chain_length 2")
}

func TestCheckPeerCommandForeignChain(t *testing.T) {
	addr, _ := startPeer(t, 1)

	_, err := execute(t, "--chain-id=othernet", "checkpeer", addr)
	assert.Error(t, err)
}
