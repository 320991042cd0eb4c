package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shruggr/chainsync/models"
	"github.com/shruggr/chainsync/network"
)

// Config is the node configuration. Every field can be set by flag, by
// CHAINSYNC_* environment variable or from the --config file.
type Config struct {
	Storage string `mapstructure:"storage"`
	DataDir string `mapstructure:"data-dir"`

	ChainID        string `mapstructure:"chain-id"`
	GenesisTime    string `mapstructure:"genesis-time"`
	SlotsPerEpoch  uint32 `mapstructure:"slots-per-epoch"`
	MaxContentSize uint32 `mapstructure:"max-content-size"`
	RefCacheSize   int    `mapstructure:"ref-cache-size"`

	TrustedPeers   []string      `mapstructure:"trusted-peers"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	TLSCAFile      string        `mapstructure:"tls-ca-file"`

	Listen        string `mapstructure:"listen"`
	MetricsListen string `mapstructure:"metrics-listen"`
	LogLevel      string `mapstructure:"log-level"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		Storage:        "badger",
		DataDir:        "./data",
		ChainID:        "chainsync-testnet",
		GenesisTime:    "2024-01-01T00:00:00Z",
		SlotsPerEpoch:  43200,
		MaxContentSize: 2 << 20,
		RefCacheSize:   4096,
		ConnectTimeout: 10 * time.Second,
		Listen:         "127.0.0.1:3000",
		MetricsListen:  "127.0.0.1:9100",
		LogLevel:       "info",
	}
}

// AddFlags registers a flag per config key, defaulting to c
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.String("storage", c.Storage, "Storage type: memory or badger")
	fs.String("data-dir", c.DataDir, "Data directory for BadgerDB and the SQLite chain index")
	fs.String("chain-id", c.ChainID, "Chain identifier used to derive block0")
	fs.String("genesis-time", c.GenesisTime, "Chain start time (RFC 3339) used to derive block0")
	fs.Uint32("slots-per-epoch", c.SlotsPerEpoch, "Slots per epoch; 0 disables the slot check")
	fs.Uint32("max-content-size", c.MaxContentSize, "Maximum block body size in bytes; 0 disables the check")
	fs.Int("ref-cache-size", c.RefCacheSize, "Number of block references kept in memory")
	fs.StringSlice("trusted-peers", c.TrustedPeers, "Bootstrap peer multiaddrs, tried in order")
	fs.Duration("connect-timeout", c.ConnectTimeout, "Timeout for establishing a peer connection")
	fs.String("tls-ca-file", c.TLSCAFile, "CA certificate for TLS connections to peers")
	fs.String("listen", c.Listen, "Address to serve the sync protocol on")
	fs.String("metrics-listen", c.MetricsListen, "Address to serve /metrics on; empty disables it")
	fs.String("log-level", c.LogLevel, "Log level: debug, info, warn, error")
}

// ParseConfig unmarshals v over the defaults and validates the result
func ParseConfig(v *viper.Viper) (*Config, error) {
	conf := DefaultConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, err
	}

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config: %w", err)
	}
	return conf, nil
}

// ValidateBasic performs checks that need no I/O
func (c *Config) ValidateBasic() error {
	switch c.Storage {
	case "memory":
	case "badger":
		if c.DataDir == "" {
			return errors.New("data-dir is required for badger storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q (use memory or badger)", c.Storage)
	}

	if c.ChainID == "" {
		return errors.New("chain-id is required")
	}
	if _, err := c.genesisTime(); err != nil {
		return err
	}
	if c.RefCacheSize <= 0 {
		return errors.New("ref-cache-size must be positive")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect-timeout can't be negative")
	}
	if _, err := network.ParsePeers(c.TrustedPeers); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) genesisTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.GenesisTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesis-time %q: %w", c.GenesisTime, err)
	}
	return t, nil
}

// Genesis derives block0 from the chain id and start time
func (c *Config) Genesis() (*models.Block, error) {
	start, err := c.genesisTime()
	if err != nil {
		return nil, err
	}
	return models.NewGenesisBlock(c.ChainID, start)
}

// Peers returns the parsed trusted peers
func (c *Config) Peers() ([]network.Peer, error) {
	return network.ParsePeers(c.TrustedPeers)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l})), nil
}

// loadViper binds the command's flags, the environment and the optional
// config file into v
func loadViper(v *viper.Viper, fs *pflag.FlagSet, configFile string) error {
	v.SetEnvPrefix("CHAINSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return nil
}
