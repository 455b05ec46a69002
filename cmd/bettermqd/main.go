// Command bettermqd runs the BetterMQ broker daemon: it opens (or
// discovers) topics under a data directory, starts the directory
// sweeper, and serves the RPC surface over TCP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bettermq/bettermq/internal/broker"
	"github.com/bettermq/bettermq/internal/config"
	"github.com/bettermq/bettermq/internal/logging"
	"github.com/bettermq/bettermq/internal/metrics"
	"github.com/bettermq/bettermq/internal/rpc"
	"github.com/bettermq/bettermq/internal/rpcadapter"
	"github.com/bettermq/bettermq/internal/tracing"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bettermqd",
		Short: "BetterMQ broker daemon",
		Long:  "bettermqd serves BetterMQ's multi-topic priority queue over a TCP RPC transport.",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "path to YAML config file (optional, env vars override)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)

	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = uuid.New().String()
	}

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := tracing.Init(context.Background(), tracing.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.Init(cfg.Observability.Metrics.Namespace)
	}

	b, err := broker.New(cfg.Broker.DataDir, cfg.Server.NodeID, cfg.Broker.SweepInterval)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	if err := b.Start(cfg.Broker.Topics); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}
	defer b.Stop()

	adapter := rpcadapter.New(b)
	server := rpc.NewServer(adapter)
	if err := server.Start(cfg.Server.Listen); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}
	defer server.Stop()

	var metricsServer *http.Server
	if cfg.Observability.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Observability.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Warn("metrics server error", "error", err)
			}
		}()
		logging.Op().Info("metrics server started", "addr", cfg.Observability.Metrics.Addr)
	}

	logging.Op().Info("bettermqd started",
		"node_id", cfg.Server.NodeID,
		"listen", cfg.Server.Listen,
		"data_dir", cfg.Broker.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("shutdown signal received")
	if metricsServer != nil {
		metricsServer.Close()
	}
	return nil
}
