// Package topology maps keys to the nodes responsible for them and
// owns the long-lived peer client handles used to reach them. Replica
// placement is consistent hashing with virtual nodes, so every node in
// the cluster computes the same replica set for a key.
package topology

import (
	"fmt"
)

// Node identifies a cluster member.
type Node struct {
	ID   string
	Addr string
}

// PeerClient is the subset of internal/peer.Client that Topology needs
// to own a handle to, kept narrow here so that topology does not import
// internal/peer (and peer.Client does not need to know about Topology).
type PeerClient interface {
	Close()
}

// Topology maps a key to the primary replicas responsible for it, and
// owns one persistent peer client handle per remote node for the
// lifetime of the process.
type Topology struct {
	self  Node
	ring  *ring
	nodes map[string]Node // id -> Node, for All()/size lookups

	peers map[string]PeerClient // id -> peer client, remote nodes only
}

// NewTopology builds a topology from the given nodes (self must be one
// of them) and a factory used to construct a peer client handle for
// every remote node exactly once. newPeer is called once per remote
// node id at construction time and the returned handle is owned by the
// Topology for the whole process lifetime.
func NewTopology(self Node, nodes []Node, vnodesPerNode int, newPeer func(Node) PeerClient) (*Topology, error) {
	t := &Topology{
		self:  self,
		ring:  newRing(vnodesPerNode),
		nodes: make(map[string]Node, len(nodes)),
		peers: make(map[string]PeerClient, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := t.nodes[n.ID]; dup {
			return nil, fmt.Errorf("topology: duplicate node id %q", n.ID)
		}
		t.nodes[n.ID] = n
		t.ring.addNode(n)
		if n.ID == self.ID {
			continue
		}
		if newPeer != nil {
			t.peers[n.ID] = newPeer(n)
		}
	}
	if _, ok := t.nodes[self.ID]; !ok {
		return nil, fmt.Errorf("topology: self node %q not present in node list", self.ID)
	}
	return t, nil
}

// IsLocal reports whether node identifies this process.
func (t *Topology) IsLocal(node Node) bool {
	return node.ID == t.self.ID
}

// Self returns this node's identity.
func (t *Topology) Self() Node {
	return t.self
}

// PrimaryFor returns the single primary node for key.
func (t *Topology) PrimaryFor(key []byte) Node {
	nodes := t.ring.primariesFor(key, 1)
	return nodes[0]
}

// PrimariesFor returns count distinct nodes responsible for key, in a
// deterministic order every node in the cluster computes identically.
// count is clamped to the cluster size.
func (t *Topology) PrimariesFor(key []byte, count int) []Node {
	if count > len(t.nodes) {
		count = len(t.nodes)
	}
	return t.ring.primariesFor(key, count)
}

// All returns every node in the cluster, self included.
func (t *Topology) All() []Node {
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// Size returns the cluster size.
func (t *Topology) Size() int {
	return len(t.nodes)
}

// QuorumCount returns floor(N/2)+1.
func (t *Topology) QuorumCount() int {
	return t.Size()/2 + 1
}

// PeerFor returns the owned peer client handle for a remote node id.
// It returns nil, false for the local node or an unknown id.
func (t *Topology) PeerFor(id string) (PeerClient, bool) {
	p, ok := t.peers[id]
	return p, ok
}

// Close releases every owned peer client handle.
func (t *Topology) Close() {
	for _, p := range t.peers {
		p.Close()
	}
}
