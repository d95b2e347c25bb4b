// etcd is a distributed key-value store providing strong consistency (Raft
// protocol); it's used here as a phonebook for services:
//
//	Key:   /nestrpc/{ServiceName}/{Addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the server crashes, the lease
// expires and the entry is automatically removed, preventing ghost
// instances.
package locator

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register adds an instance to etcd under a TTL lease and starts renewing
// it in the background. leaseID deliberately lives only on the local stack,
// not on the struct, so that one EtcdRegistry shared across goroutines
// registering different services never races over it.
func (r *EtcdRegistry) Register(serviceName string, instance Instance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, "/nestrpc/"+serviceName+"/"+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an advertised instance from etcd.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, "/nestrpc/"+serviceName+"/"+addr)
	return err
}

// Watch monitors a service's key prefix and re-fetches the full instance
// list on any change — simpler than reconstructing it from individual
// watch events, at the cost of an extra round trip per change.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []Instance {
	ctx := context.TODO()
	ch := make(chan []Instance, 1)
	prefix := "/nestrpc/" + serviceName + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, _ := r.Discover(serviceName)
			ch <- instances
		}
	}()

	return ch
}

// Discover queries etcd for every instance registered under serviceName.
func (r *EtcdRegistry) Discover(serviceName string) ([]Instance, error) {
	ctx := context.TODO()
	prefix := "/nestrpc/" + serviceName + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
