package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseArgs(t *testing.T, configFile string, args ...string) (*Config, error) {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefaultConfig().AddFlags(fs)
	require.NoError(t, fs.Parse(args))

	v := viper.New()
	require.NoError(t, loadViper(v, fs, configFile))
	return ParseConfig(v)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().ValidateBasic())
}

func TestParseConfigFlags(t *testing.T) {
	conf, err := parseArgs(t, "",
		"--storage=memory",
		"--trusted-peers=/ip4/10.0.0.1/tcp/3000,/dns4/node.example/tcp/3000",
		"--connect-timeout=3s",
		"--slots-per-epoch=60",
	)
	require.NoError(t, err)

	assert.Equal(t, "memory", conf.Storage)
	assert.Equal(t, 3*time.Second, conf.ConnectTimeout)
	assert.Equal(t, uint32(60), conf.SlotsPerEpoch)
	assert.Equal(t, DefaultConfig().ChainID, conf.ChainID)

	peers, err := conf.Peers()
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "/dns4/node.example/tcp/3000", peers[1].String())
}

func TestParseConfigEnv(t *testing.T) {
	t.Setenv("CHAINSYNC_CHAIN_ID", "envnet")
	t.Setenv("CHAINSYNC_LOG_LEVEL", "debug")

	conf, err := parseArgs(t, "")
	require.NoError(t, err)
	assert.Equal(t, "envnet", conf.ChainID)
	assert.Equal(t, "debug", conf.LogLevel)
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chain-id: filenet\nref-cache-size: 16\n"), 0o644))

	conf, err := parseArgs(t, path, "--ref-cache-size=32")
	require.NoError(t, err)
	assert.Equal(t, "filenet", conf.ChainID)
	assert.Equal(t, 32, conf.RefCacheSize)
}

func TestParseConfigMissingFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefaultConfig().AddFlags(fs)

	err := loadViper(viper.New(), fs, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateBasic(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage = "tape" }},
		{"badger without data dir", func(c *Config) { c.DataDir = "" }},
		{"empty chain id", func(c *Config) { c.ChainID = "" }},
		{"bad genesis time", func(c *Config) { c.GenesisTime = "yesterday" }},
		{"zero ref cache", func(c *Config) { c.RefCacheSize = 0 }},
		{"negative timeout", func(c *Config) { c.ConnectTimeout = -time.Second }},
		{"bad peer", func(c *Config) { c.TrustedPeers = []string{"localhost:3000"} }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := DefaultConfig()
			tt.mutate(conf)
			assert.Error(t, conf.ValidateBasic())
		})
	}
}

func TestGenesisIsStable(t *testing.T) {
	a, err := DefaultConfig().Genesis()
	require.NoError(t, err)
	b, err := DefaultConfig().Genesis()
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())

	other := DefaultConfig()
	other.ChainID = "othernet"
	c, err := other.Genesis()
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), c.Hash())
}
