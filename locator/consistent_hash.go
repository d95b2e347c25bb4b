package locator

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// ConsistentHashBalancer maps keys to instances using a hash ring. The same
// key always maps to the same instance until the ring changes, providing
// cache affinity for stateful services.
//
// Each real instance gets 100 virtual nodes on the ring; without virtual
// nodes a handful of instances can cluster together and skew load.
type ConsistentHashBalancer struct {
	replicas int
	ring     []uint32
	nodes    map[uint32]*Instance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*Instance),
	}
}

// Add places an instance onto the ring with its virtual nodes, each hashed
// from "{addr}#{i}" to spread them across the ring.
func (b *ConsistentHashBalancer) Add(instance *Instance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the instance responsible for key: hash it, then walk
// clockwise to the first node on the ring at or past that hash, wrapping
// around to the first node if the hash exceeds them all.
//
// Pick takes a key rather than an instance list, since consistent hashing
// is key-based; it does not implement Balancer directly.
func (b *ConsistentHashBalancer) Pick(key string) (*Instance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("locator: consistent hash ring is empty")
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
