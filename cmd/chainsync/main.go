package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/shruggr/chainsync/network"
	nodegrpc "github.com/shruggr/chainsync/network/grpc"
)

const gcInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("chainsync failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nodegrpc.SetLogger(nil)
	return rootCommand().ExecuteContext(ctx)
}

// env carries what PersistentPreRunE resolves to the subcommands
type env struct {
	conf   *Config
	logger *slog.Logger
}

func rootCommand() *cobra.Command {
	var configFile string
	e := &env{}

	cmd := &cobra.Command{
		Use:           "chainsync",
		Short:         "Bootstrap and serve a block chain over gRPC",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := loadViper(v, cmd.Flags(), configFile); err != nil {
				return err
			}

			conf, err := ParseConfig(v)
			if err != nil {
				return err
			}

			logger, err := newLogger(conf.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			e.conf = conf
			e.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	DefaultConfig().AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(bootstrapCommand(e), serveCommand(e), checkPeerCommand(e))
	return cmd
}

func bootstrapCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Catch up with the chain from the trusted peers and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			n, err := openNode(ctx, e.conf, e.logger)
			if err != nil {
				return err
			}
			defer n.Close()

			peers, err := e.conf.Peers()
			if err != nil {
				return err
			}

			ref, err := n.bootstrapper(e.conf, nil, e.logger).FromTrustedPeers(ctx, peers, n.tip)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "tip %s chain_length %d block_date %s\n", ref.Hash(), ref.ChainLength(), ref.BlockDate())
			return nil
		},
	}
}

func serveCommand(e *env) *cobra.Command {
	var bootstrap bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chain to syncing peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conf, logger := e.conf, e.logger

			n, err := openNode(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer n.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := network.NewMetrics(reg)

			if bootstrap {
				peers, err := conf.Peers()
				if err != nil {
					return err
				}
				if _, err := n.bootstrapper(conf, metrics, logger).FromTrustedPeers(ctx, peers, n.tip); err != nil {
					if !errors.Is(err, network.ErrNoTrustedPeers) {
						return err
					}
					logger.Warn("no trusted peers configured, skipping bootstrap")
				}
			}

			lis, err := net.Listen("tcp", conf.Listen)
			if err != nil {
				return err
			}

			gs := grpc.NewServer()
			nodegrpc.NewServer(n.chain, n.tip, logger).Register(gs)

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				logger.Info("serving sync protocol", "listen", lis.Addr().String(), "tip", n.tip.GetRef().Hash())
				return gs.Serve(lis)
			})

			var metricsServer *http.Server
			if conf.MetricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				metricsServer = &http.Server{Addr: conf.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

				g.Go(func() error {
					logger.Info("serving metrics", "listen", conf.MetricsListen)
					if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			}

			if n.badger != nil {
				g.Go(func() error {
					ticker := time.NewTicker(gcInterval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							if err := n.badger.RunGC(0.5); err != nil {
								logger.Warn("badger value log GC failed", "error", err)
							}
						}
					}
				})
			}

			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				gs.GracefulStop()
				if metricsServer != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return metricsServer.Shutdown(shutdownCtx)
				}
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "Bootstrap from the trusted peers before serving")
	return cmd
}
