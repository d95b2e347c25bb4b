package locator

import (
	"fmt"
	"net"
	"sync"

	"github.com/bx-d/nestrpc/client"
	"github.com/bx-d/nestrpc/codec"
)

// Dialer resolves a service name to an address and opens the connection's
// root capability — the one piece of this system that still needs a
// "service name" the way a classic RPC client does. Everything past Dial's
// return value is ordinary capability traffic (spec §4.5): no further
// lookups, no re-resolution, no retries across instances.
type Dialer struct {
	Registry Registry
	Balancer Balancer
	Codec    codec.Codec

	// WarmPoolSize, if non-zero, pre-dials this many TCP connections per
	// discovered address so Dial can skip the handshake on its hot path.
	WarmPoolSize int

	mu    sync.Mutex
	pools map[string]*warmPool
}

// NewDialer builds a Dialer over the given registry and balancer, using vc
// to encode and decode call arguments on every connection it opens.
func NewDialer(reg Registry, bal Balancer, vc codec.Codec) *Dialer {
	return &Dialer{Registry: reg, Balancer: bal, Codec: vc}
}

// Dial discovers instances of serviceName, picks one via the configured
// Balancer, and dials it, returning the bootstrapped root Proxy (spec §6
// "Connection bootstrap" — ServiceID 0, no wire exchange needed to obtain
// it).
func (d *Dialer) Dial(serviceName string) (*client.Proxy, error) {
	instances, err := d.Registry.Discover(serviceName)
	if err != nil {
		return nil, fmt.Errorf("locator: discovering %q: %w", serviceName, err)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("locator: no instances registered for %q", serviceName)
	}

	instance, err := d.Balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("locator: picking an instance of %q: %w", serviceName, err)
	}

	nc, err := d.dialAddr(instance.Addr)
	if err != nil {
		return nil, fmt.Errorf("locator: dialing %q at %s: %w", serviceName, instance.Addr, err)
	}
	return client.Bootstrap(client.NewConn(nc), d.Codec), nil
}

func (d *Dialer) dialAddr(addr string) (net.Conn, error) {
	if d.WarmPoolSize <= 0 {
		return net.Dial("tcp", addr)
	}

	pool := d.poolFor(addr)
	conn, err := pool.get()
	if err != nil {
		return nil, err
	}
	pool.prewarm(1) // replace the connection this call just consumed
	return conn, nil
}

func (d *Dialer) poolFor(addr string) *warmPool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pools == nil {
		d.pools = make(map[string]*warmPool)
	}
	pool, ok := d.pools[addr]
	if !ok {
		pool = newWarmPool(addr, d.WarmPoolSize, func() (net.Conn, error) {
			return net.Dial("tcp", addr)
		})
		pool.prewarm(d.WarmPoolSize)
		d.pools[addr] = pool
	}
	return pool
}
