package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shruggr/chainsync/cache/memory"
	"github.com/shruggr/chainsync/chainstore"
	"github.com/shruggr/chainsync/kvstore"
	"github.com/shruggr/chainsync/kvstore/badger"
	kvmemory "github.com/shruggr/chainsync/kvstore/memory"
	"github.com/shruggr/chainsync/metadata"
	metamemory "github.com/shruggr/chainsync/metadata/memory"
	"github.com/shruggr/chainsync/metadata/sqlite"
	"github.com/shruggr/chainsync/models"
	"github.com/shruggr/chainsync/network"
	nodegrpc "github.com/shruggr/chainsync/network/grpc"
)

// node is an opened chain and its HEAD tip
type node struct {
	chain   *chainstore.Blockchain
	tip     *chainstore.Tip
	genesis *models.Block
	badger  *badger.Store // nil for memory storage
}

func openNode(ctx context.Context, conf *Config, logger *slog.Logger) (*node, error) {
	genesis, err := conf.Genesis()
	if err != nil {
		return nil, err
	}

	var blocks kvstore.KVStore
	var meta metadata.Store
	var bs *badger.Store

	switch conf.Storage {
	case "memory":
		logger.Info("using in-memory storage")
		blocks = kvmemory.New()
		meta = metamemory.New()
	case "badger":
		logger.Info("using BadgerDB storage", "data_dir", conf.DataDir)
		if err := os.MkdirAll(conf.DataDir, 0o755); err != nil {
			return nil, err
		}
		bs, err = badger.New(&badger.Config{DataDir: filepath.Join(conf.DataDir, "blocks")})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize BadgerDB: %w", err)
		}
		blocks = bs
		meta, err = sqlite.New(&sqlite.Config{DBPath: filepath.Join(conf.DataDir, "chain.db")})
		if err != nil {
			_ = bs.Close()
			return nil, fmt.Errorf("failed to initialize chain index: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown storage type: %s", conf.Storage)
	}

	refs, err := memory.New(conf.RefCacheSize)
	if err != nil {
		_ = blocks.Close()
		_ = meta.Close()
		return nil, err
	}

	chain := chainstore.New(genesis.Hash(), blocks, meta, refs, &chainstore.Config{
		SlotsPerEpoch:  conf.SlotsPerEpoch,
		MaxContentSize: conf.MaxContentSize,
	}, logger)

	tip, err := chain.Load(ctx, genesis)
	if err != nil {
		_ = chain.Close()
		return nil, err
	}

	return &node{chain: chain, tip: tip, genesis: genesis, badger: bs}, nil
}

func (n *node) Close() error {
	return n.chain.Close()
}

func (n *node) bootstrapper(conf *Config, metrics *network.Metrics, logger *slog.Logger) *network.Bootstrapper {
	connector := nodegrpc.NewConnector(&nodegrpc.Config{
		Block0:         n.genesis.Hash(),
		ConnectTimeout: conf.ConnectTimeout,
		TLSCAFile:      conf.TLSCAFile,
	}, logger)
	return network.NewBootstrapper(n.chain, connector, metrics, logger)
}
