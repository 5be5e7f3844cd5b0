// Package config parses a node's startup configuration from flags and
// environment variables. The -addr, -node-id, -peers, -data and
// -replicas flags have matching KV_* variables; when both are set the
// environment wins, so an orchestrator can override a baked-in flag
// default without editing the command line. The pool size and timeout
// flags are read from the command line only.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Peer is one remote cluster member from the -peers list.
type Peer struct {
	ID   string
	Addr string
}

// Config is a node's full startup configuration.
type Config struct {
	Addr   string
	NodeID string
	Peers  []Peer

	DataDir           string
	ReplicationFactor int

	DAOWorkers   int
	DAOQueue     int
	ProxyWorkers int
	ProxyQueue   int

	ProxyTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ClusterSize is the number of nodes in the cluster, self included.
func (c Config) ClusterSize() int {
	return len(c.Peers) + 1
}

// Parse reads configuration from args (not including the program name)
// and getenv. Pass os.Getenv outside of tests.
func Parse(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("kvnode", flag.ContinueOnError)

	addr := fs.String("addr", "127.0.0.1:8080", "HTTP listen address")
	nodeID := fs.String("node-id", "", "this node's identifier (default: hostname)")
	peers := fs.String("peers", "", "comma-separated id=http://host:port list of remote peers")
	dataDir := fs.String("data", "", "data directory (default: ./data/<node-id>)")
	replicas := fs.Int("replicas", 3, "default replication factor, clamped to cluster size")
	daoWorkers := fs.Int("dao-workers", 8, "local store worker pool size")
	daoQueue := fs.Int("dao-queue", 128, "local store worker pool queue depth")
	proxyWorkers := fs.Int("proxy-workers", 8, "peer call worker pool size")
	proxyQueue := fs.Int("proxy-queue", 128, "peer call worker pool queue depth")
	proxyTimeout := fs.Duration("proxy-timeout", 500*time.Millisecond, "per-replica peer call timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 5*time.Second, "graceful shutdown drain budget")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:              envString(getenv, "KV_HTTP_ADDR", *addr),
		NodeID:            envString(getenv, "KV_NODE_ID", *nodeID),
		DataDir:           envString(getenv, "KV_DATA_DIR", *dataDir),
		ReplicationFactor: envInt(getenv, "KV_REPLICATION_FACTOR", *replicas),
		DAOWorkers:        *daoWorkers,
		DAOQueue:          *daoQueue,
		ProxyWorkers:      *proxyWorkers,
		ProxyQueue:        *proxyQueue,
		ProxyTimeout:      *proxyTimeout,
		ShutdownTimeout:   *shutdownTimeout,
	}

	if cfg.NodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("config: node id unset and hostname unavailable: %w", err)
		}
		cfg.NodeID = hostname
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/" + cfg.NodeID
	}

	parsedPeers, err := ParsePeers(envString(getenv, "KV_PEERS", *peers))
	if err != nil {
		return Config{}, err
	}
	for _, p := range parsedPeers {
		if p.ID == cfg.NodeID {
			return Config{}, fmt.Errorf("config: peer list must not contain this node (%q)", cfg.NodeID)
		}
	}
	cfg.Peers = parsedPeers

	if cfg.ReplicationFactor < 1 {
		return Config{}, fmt.Errorf("config: replication factor %d must be at least 1", cfg.ReplicationFactor)
	}
	if cfg.ReplicationFactor > cfg.ClusterSize() {
		cfg.ReplicationFactor = cfg.ClusterSize()
	}
	return cfg, nil
}

// ParsePeers parses a "id=http://host:port,id=http://host:port" list.
// An empty input means a single-node cluster.
func ParsePeers(raw string) ([]Peer, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]Peer, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		id, addr, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("config: peer %q must be id=http://host:port", part)
		}
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			return nil, fmt.Errorf("config: peer %q address must be an http(s) URL", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("config: duplicate peer id %q", id)
		}
		seen[id] = true
		out = append(out, Peer{ID: id, Addr: addr})
	}
	return out, nil
}

func envString(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int) int {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
