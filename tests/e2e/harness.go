package e2e

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"quorumkv/internal/coordinator"
	"quorumkv/internal/httpapi"
	"quorumkv/internal/peer"
	"quorumkv/internal/store"
	"quorumkv/internal/topology"
	"quorumkv/internal/workerpool"
)

// testNode is one in-process cluster member: a real engine, topology,
// coordinator, and HTTP server bound to a stable local address.
type testNode struct {
	ID      string
	Addr    string
	BaseURL string

	walPath   string
	logger    *slog.Logger
	engine    *store.Engine
	top       *topology.Topology
	daoPool   *workerpool.Pool
	proxyPool *workerpool.Pool
	handler   http.Handler
	srv       *http.Server
	listener  net.Listener
}

type cluster struct {
	Nodes []*testNode
}

// startCluster brings up n nodes on loopback, each knowing all the
// others, and waits until every /v0/status answers.
func startCluster(t *testing.T, n int) *cluster {
	t.Helper()

	listeners := make([]net.Listener, n)
	members := make([]topology.Node, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		listeners[i] = ln
		members[i] = topology.Node{
			ID:   fmt.Sprintf("n%d", i+1),
			Addr: "http://" + ln.Addr().String(),
		}
	}

	httpClient := &http.Client{Timeout: 2 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := &cluster{}
	for i := 0; i < n; i++ {
		node, err := startNode(t, members[i], members, listeners[i], httpClient, logger)
		if err != nil {
			t.Fatalf("start node %s: %v", members[i].ID, err)
		}
		c.Nodes = append(c.Nodes, node)
	}

	for _, node := range c.Nodes {
		if err := waitForReady(node.BaseURL, 5*time.Second); err != nil {
			t.Fatalf("node %s: %v", node.ID, err)
		}
	}
	return c
}

func startNode(
	t *testing.T,
	self topology.Node,
	members []topology.Node,
	ln net.Listener,
	httpClient *http.Client,
	logger *slog.Logger,
) (*testNode, error) {
	t.Helper()

	walPath := filepath.Join(t.TempDir(), "wal.log")
	engine, err := store.NewEngine(store.EngineConfig{WALPath: walPath, Logger: logger})
	if err != nil {
		return nil, err
	}

	top, err := topology.NewTopology(self, members, 64, func(n topology.Node) topology.PeerClient {
		return peer.New(n.Addr, httpClient)
	})
	if err != nil {
		return nil, err
	}

	daoPool := workerpool.New(4, 64)
	proxyPool := workerpool.New(4, 64)

	node := &testNode{
		ID:        self.ID,
		Addr:      ln.Addr().String(),
		BaseURL:   self.Addr,
		walPath:   walPath,
		logger:    logger,
		top:       top,
		daoPool:   daoPool,
		proxyPool: proxyPool,
		listener:  ln,
	}
	node.wire(engine)
	go func() { _ = node.srv.Serve(ln) }()

	t.Cleanup(func() {
		_ = node.srv.Close()
		node.daoPool.Close()
		node.proxyPool.Close()
		node.top.Close()
		_ = node.engine.Close()
	})
	return node, nil
}

// wire rebuilds the coordinator and HTTP server around engine, reusing
// the node's topology and pools. Used at startup and after Restart.
func (n *testNode) wire(engine *store.Engine) {
	n.engine = engine
	coord := coordinator.New(coordinator.Config{
		Topology:     n.top,
		Store:        engine,
		DAOPool:      n.daoPool,
		ProxyPool:    n.proxyPool,
		ProxyTimeout: 500 * time.Millisecond,
		Logger:       n.logger,
	})
	// Replication factor equals the cluster size, so default requests
	// fan out to every node with a majority ack.
	n.handler = httpapi.NewRouter(coord, n.ID, n.top.Size(), n.top.Size(), n.logger)
	n.srv = &http.Server{Handler: n.handler}
}

// Isolate stops the node's HTTP server so peers see transport failures.
// The engine keeps its state; Heal brings the node back on the same
// address.
func (n *testNode) Isolate() {
	_ = n.srv.Close()
}

func (n *testNode) Heal(t *testing.T) {
	t.Helper()
	ln, err := net.Listen("tcp", n.Addr)
	if err != nil {
		t.Fatalf("heal %s: %v", n.ID, err)
	}
	n.listener = ln
	n.srv = &http.Server{Handler: n.handler}
	go func() { _ = n.srv.Serve(ln) }()
	if err := waitForReady(n.BaseURL, 5*time.Second); err != nil {
		t.Fatalf("heal %s: %v", n.ID, err)
	}
}

// Restart simulates a crash: the HTTP server stops, the engine is
// closed, and everything is rebuilt from the same WAL on the same
// address.
func (n *testNode) Restart(t *testing.T) {
	t.Helper()
	_ = n.srv.Close()
	if err := n.engine.Close(); err != nil {
		t.Fatalf("restart %s: close engine: %v", n.ID, err)
	}
	engine, err := store.NewEngine(store.EngineConfig{WALPath: n.walPath, Logger: n.logger})
	if err != nil {
		t.Fatalf("restart %s: reopen engine: %v", n.ID, err)
	}
	n.wire(engine)

	ln, err := net.Listen("tcp", n.Addr)
	if err != nil {
		t.Fatalf("restart %s: relisten: %v", n.ID, err)
	}
	n.listener = ln
	go func() { _ = n.srv.Serve(ln) }()
	if err := waitForReady(n.BaseURL, 5*time.Second); err != nil {
		t.Fatalf("restart %s: %v", n.ID, err)
	}
}

func waitForReady(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/v0/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready after %s", baseURL, timeout)
}
