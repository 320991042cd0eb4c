package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shruggr/chainsync/models"
	"github.com/shruggr/chainsync/network"
	nodegrpc "github.com/shruggr/chainsync/network/grpc"
)

func checkPeerCommand(e *env) *cobra.Command {
	var count bool

	cmd := &cobra.Command{
		Use:   "checkpeer <multiaddr>",
		Short: "Check that a peer is reachable and serves this chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			peer, err := network.ParsePeer(args[0])
			if err != nil {
				return err
			}

			genesis, err := e.conf.Genesis()
			if err != nil {
				return err
			}

			connector := nodegrpc.NewConnector(&nodegrpc.Config{
				Block0:         genesis.Hash(),
				ConnectTimeout: e.conf.ConnectTimeout,
				TLSCAFile:      e.conf.TLSCAFile,
			}, e.logger)
			if err := connector.Init(ctx); err != nil {
				return err
			}

			session, err := connector.Connect(ctx, peer)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Ready(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "peer %s serves block0 %s\n", peer, genesis.Hash())
			if !count {
				return nil
			}

			stream, err := session.PullBlocksToTip(ctx, []models.HeaderHash{genesis.Hash()})
			if err != nil {
				return err
			}
			defer stream.Close()

			var n int
			var last *models.Block
			for {
				block, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				n++
				last = block
			}

			if last == nil {
				fmt.Fprintln(out, "peer tip is block0")
				return nil
			}
			fmt.Fprintf(out, "peer tip %s chain_length %d block_date %s (%d blocks)\n",
				last.Hash(), last.Header.ChainLength, last.Header.Date, n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&count, "count", false, "Also stream the peer's chain and report its tip")
	return cmd
}
