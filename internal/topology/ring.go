package topology

import (
	"hash/fnv"
	"sort"
)

// vnode is one virtual node position on the hash ring.
type vnode struct {
	hash   uint32
	nodeID string
}

// ring implements consistent hashing with virtual nodes per physical
// node: FNV-1a hashes of "<nodeID>-vnode-<i>" names on a sorted slice,
// looked up with binary search.
type ring struct {
	vnodesPerNode int
	vnodes        []vnode
	byID          map[string]Node
}

func newRing(vnodesPerNode int) *ring {
	if vnodesPerNode <= 0 {
		vnodesPerNode = 128
	}
	return &ring{
		vnodesPerNode: vnodesPerNode,
		byID:          make(map[string]Node),
	}
}

func (r *ring) addNode(n Node) {
	if _, exists := r.byID[n.ID]; exists {
		return
	}
	r.byID[n.ID] = n
	for i := 0; i < r.vnodesPerNode; i++ {
		h := hashString(vnodeName(n.ID, i))
		r.vnodes = append(r.vnodes, vnode{hash: h, nodeID: n.ID})
	}
	sort.Slice(r.vnodes, func(i, j int) bool { return r.vnodes[i].hash < r.vnodes[j].hash })
}

// primariesFor walks the ring clockwise from key's hash, collecting up
// to count distinct physical nodes. Deterministic: every node building
// the same ring from the same node set computes the same answer.
func (r *ring) primariesFor(key []byte, count int) []Node {
	if len(r.vnodes) == 0 || count <= 0 {
		return nil
	}
	keyHash := hashString(string(key))
	start := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= keyHash })

	seen := make(map[string]bool, count)
	out := make([]Node, 0, count)
	for i := 0; i < len(r.vnodes) && len(out) < count; i++ {
		pos := (start + i) % len(r.vnodes)
		id := r.vnodes[pos].nodeID
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r.byID[id])
	}
	return out
}

func vnodeName(nodeID string, i int) string {
	buf := make([]byte, 0, len(nodeID)+16)
	buf = append(buf, nodeID...)
	buf = append(buf, "-vnode-"...)
	buf = appendInt(buf, i)
	return string(buf)
}

func appendInt(b []byte, v int) []byte {
	if v == 0 {
		return append(b, '0')
	}
	start := len(b)
	for v > 0 {
		b = append(b, byte('0'+v%10))
		v /= 10
	}
	// reverse the digits just appended
	for i, j := start, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
