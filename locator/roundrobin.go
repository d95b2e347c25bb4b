package locator

import (
	"fmt"
	"sync/atomic"
)

// RoundRobinBalancer distributes picks evenly across all instances in
// order, using an atomic counter for lock-free operation.
//
// Best for stateless services where all instances have similar capacity.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(instances []Instance) (*Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("locator: no instances available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
