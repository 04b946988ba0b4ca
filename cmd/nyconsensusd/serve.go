package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/config"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/lockservice"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/service"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/storage"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/telemetry"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/transport"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a nyconsensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to node config YAML")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewRaftMetrics(registry)

	persistence, err := storage.Open(cfg.PersistencePath)
	if err != nil {
		return err
	}
	defer persistence.Close()

	peerAddrs := make(map[raft.PeerID]string)
	for id, addr := range cfg.PeerRaftAddrs {
		if id == cfg.NodeID {
			continue
		}
		peerAddrs[raft.PeerID(id)] = addr
	}
	tcpTransport := transport.NewTCP(peerAddrs)

	peers := make([]raft.PeerID, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, raft.PeerID(p))
	}

	nodeCfg := raft.Config{
		NodeID:             raft.PeerID(cfg.NodeID),
		Peers:              peers,
		ElectionTimeoutMin: cfg.ElectionTimeoutMin(),
		ElectionTimeoutMax: cfg.ElectionTimeoutMax(),
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		MaxBatchEntries:    cfg.MaxBatchEntries,
		RPCTimeout:         cfg.RPCTimeout(),
	}

	store := lockservice.NewStore(logger)
	store.SetMetrics(metrics)
	clock := raft.SystemClock{}
	random := raft.NewMathRandSource(time.Now().UnixNano())

	node, err := raft.New(nodeCfg, persistence, tcpTransport, store, clock, random, logger, metrics)
	if err != nil {
		return err
	}
	node.Start()
	defer node.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node.RunTicker(ctx, cfg.HeartbeatInterval()/2)

	raftSvc := transport.NewService(node)
	go func() {
		if err := transport.Serve(ctx, cfg.BindAddr, raftSvc, logger); err != nil {
			logger.Error("raft rpc server stopped", zap.Error(err))
		}
	}()

	clientSvc := service.NewServer(node, store, clock, cfg.RPCTimeout())
	go func() {
		if err := transport.ServeClientAPI(ctx, cfg.ClientAddr, clientSvc, logger); err != nil {
			logger.Error("client rpc server stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("node started",
		zap.String("node_id", cfg.NodeID),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("client_addr", cfg.ClientAddr),
	)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return metricsServer.Shutdown(shutdownCtx)
}
