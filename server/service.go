package server

import (
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/registry"
)

// Service is implemented by a live server-side object bound to one
// connection — the Go rendering of the handler contract in spec §4.4.
//
// Ordinarily Dispatch's body is produced by the interface-file code
// generator (out of scope here, per spec §1); this repo's cmd/demo package
// hand-writes the Dispatch switch a generator would emit, the same way a
// reader is meant to read one.
type Service interface {
	registry.Server

	// Dispatch invokes method mid with the given serialized argument tuple.
	// The caller (the connection's dispatch loop) has already acquired guard
	// by locking this service's registry entry; Dispatch must follow exactly
	// one of two contracts:
	//
	//   - Data-returning method: compute the reply, encode it, and return
	//     message.Data(bytes). The dispatch loop releases guard for you.
	//   - Service-returning method: construct the child server object and
	//     call reg.Register(child, guard) yourself — this transfers guard's
	//     release to the child entry's eventual teardown — then return
	//     message.Service(childID). Do not call guard.Release() in this case;
	//     the dispatch loop will not release it either, since ownership has
	//     moved to the registry.
	Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error)
}

// Factory constructs a fresh initial service for a newly accepted
// connection — the Go analogue of bootstrapping a connection's root
// capability from a Default-constructed value (spec §6 "Connection
// bootstrap").
type Factory func() Service
