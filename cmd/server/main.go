package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"quorumkv/internal/config"
	"quorumkv/internal/coordinator"
	"quorumkv/internal/httpapi"
	"quorumkv/internal/peer"
	"quorumkv/internal/store"
	"quorumkv/internal/topology"
	"quorumkv/internal/workerpool"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Error("parse config", "err", err)
		os.Exit(2)
	}
	logger = logger.With("node", cfg.NodeID)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	engine, err := store.NewEngine(store.EngineConfig{
		WALPath: filepath.Join(cfg.DataDir, "wal.log"),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine close", "err", err)
		}
	}()

	// One pooled transport shared by every peer handle.
	httpClient := &http.Client{Timeout: cfg.ProxyTimeout}

	self := topology.Node{ID: cfg.NodeID, Addr: "http://" + cfg.Addr}
	nodes := []topology.Node{self}
	for _, p := range cfg.Peers {
		nodes = append(nodes, topology.Node{ID: p.ID, Addr: p.Addr})
	}
	top, err := topology.NewTopology(self, nodes, 128, func(n topology.Node) topology.PeerClient {
		return peer.New(n.Addr, httpClient)
	})
	if err != nil {
		return err
	}
	defer top.Close()

	daoPool := workerpool.New(cfg.DAOWorkers, cfg.DAOQueue)
	proxyPool := workerpool.New(cfg.ProxyWorkers, cfg.ProxyQueue)
	defer daoPool.Close()
	defer proxyPool.Close()

	coord := coordinator.New(coordinator.Config{
		Topology:     top,
		Store:        engine,
		DAOPool:      daoPool,
		ProxyPool:    proxyPool,
		ProxyTimeout: cfg.ProxyTimeout,
		Logger:       logger,
	})

	handler := httpapi.NewRouter(coord, cfg.NodeID, top.Size(), cfg.ReplicationFactor, logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "cluster_size", top.Size())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "drain_budget", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown drain incomplete", "err", err)
	}
	return nil
}
