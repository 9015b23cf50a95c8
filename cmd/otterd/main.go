package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	pb "github.com/dian4554/otter/api/v1"
	"github.com/dian4554/otter/pkg/client"
	"github.com/dian4554/otter/pkg/config"
	"github.com/dian4554/otter/pkg/controller"
	"github.com/dian4554/otter/pkg/fsm"
	"github.com/dian4554/otter/pkg/groups"
	"github.com/dian4554/otter/pkg/raft"
	"github.com/dian4554/otter/pkg/rest"
	"github.com/dian4554/otter/pkg/scheduler"
	"github.com/dian4554/otter/pkg/server"
	"github.com/dian4554/otter/pkg/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "otterd",
		Short: "otterd runs one node of the otter lock and autoscaling service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
		SilenceUsage: true,
	}

	f := root.Flags()
	f.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "unique node ID (generates a UUID if empty)")
	f.StringVar(&cfg.RaftAddr, "raft-addr", cfg.RaftAddr, "raft bind address")
	f.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC server address")
	f.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory for raft storage")
	f.BoolVar(&cfg.Bootstrap, "bootstrap", cfg.Bootstrap, "bootstrap a new cluster")
	f.StringVar(&cfg.JoinAddr, "join", cfg.JoinAddr, "gRPC address of an existing node to join")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "otter",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	var nid uuid.UUID
	var err error
	if cfg.NodeID == "" {
		nid = uuid.New()
		logger.Info("generated node id", "node_id", nid)
	} else {
		nid, err = uuid.Parse(cfg.NodeID)
		if err != nil {
			return fmt.Errorf("invalid node id: %w", err)
		}
	}

	logger.Info("starting otter node",
		"node_id", nid,
		"raft", cfg.RaftAddr,
		"grpc", cfg.GRPCAddr,
		"http", cfg.HTTPAddr,
		"data", cfg.DataDir,
		"bootstrap", cfg.Bootstrap,
	)

	node, err := raft.NewNode(&raft.Config{
		NodeID:    nid,
		BindAddr:  cfg.RaftAddr,
		DataDir:   cfg.DataDir,
		Bootstrap: cfg.Bootstrap,
		Table: fsm.Options{
			GCGrace:        time.Duration(cfg.GCGraceSeconds) * time.Second,
			MinThreshold:   cfg.CompactionMinThreshold,
			SegmentMaxRows: cfg.SegmentMaxRows,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create raft node: %w", err)
	}
	defer node.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go node.RunMaintenance(ctx, cfg.SweepInterval, cfg.CompactEvery)

	grpcServer := grpc.NewServer()
	pb.RegisterLockServiceServer(grpcServer, server.NewServer(node))

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("gRPC server failed", "error", err)
		}
	}()

	// join an existing cluster through any live node
	if cfg.JoinAddr != "" {
		if err := joinCluster(ctx, cfg, nid, logger); err != nil {
			return err
		}
	} else if cfg.Bootstrap {
		if err := node.WaitForLeader(10 * time.Second); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	// loopback lock client used by the store and the scheduler
	lockClient, err := client.NewClient(loopback(cfg.GRPCAddr), "node-"+nid.String(), logger)
	if err != nil {
		return fmt.Errorf("failed to create lock client: %w", err)
	}
	defer lockClient.Stop()
	if err := lockClient.Start(ctx, 30*time.Second); err != nil {
		return fmt.Errorf("failed to start lock client: %w", err)
	}

	store := groups.NewMemoryStore(
		client.NewClaimLocker(lockClient, 30*time.Second),
		cfg.SchedulerBuckets, cfg.MaxGroups, logger)

	sup := supervisor.New(supervisor.NewStubProvider(), cfg.MaxLaunchJobs, logger)
	ctrl := controller.New(store, sup, logger)

	sched := scheduler.New(scheduler.Config{
		Buckets:   cfg.SchedulerBuckets,
		Interval:  cfg.SchedulerInterval,
		BatchSize: cfg.SchedulerBatch,
	}, store, ctrl, scheduler.NewClientBucketLocker(lockClient), logger)
	go sched.Run(ctx)

	restServer := rest.NewServer(store, ctrl, node, cfg.MaxGroups, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: restServer.Router(),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	logger.Info("otter node is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()
	sup.Stop()

	logger.Info("shutdown complete")
	return nil
}

// a dialable form of a listen address like ":9000"
func loopback(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func joinCluster(ctx context.Context, cfg *config.Config, nid uuid.UUID, logger hclog.Logger) error {
	joinClient, err := client.NewClient(cfg.JoinAddr, "join-"+nid.String(), logger)
	if err != nil {
		return fmt.Errorf("failed to dial join address: %w", err)
	}
	defer joinClient.Stop()

	joinCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := joinClient.Join(joinCtx, nid.String(), cfg.RaftAddr); err != nil {
		return fmt.Errorf("failed to join cluster via %s: %w", cfg.JoinAddr, err)
	}
	logger.Info("joined cluster", "via", cfg.JoinAddr)
	return nil
}
