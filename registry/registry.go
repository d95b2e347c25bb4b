// Package registry holds the connection-local bookkeeping that makes nested
// service references safe: a map from ServiceID to live server entries, plus
// the parent/child lifetime chain that keeps a parent locked for as long as
// any descendant exists (spec §4.3).
//
// This is the thing the "mini-rpc" example this framework is grounded on
// does not need at all — mini-rpc's services are flat and independent, so it
// has no notion of one service borrowing from another. The registry here
// exists specifically to make that borrowing safe without a borrow checker,
// per spec §9's "language without borrow checking" strategy: the parent
// lock is represented directly as a held *sync.Mutex, owned by the one child
// Entry that holds its Guard.
package registry

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/bx-d/nestrpc/message"
)

// ServiceID is the registry's view of a capability identifier; it is the
// same representation message.ServiceID uses on the wire.
type ServiceID = message.ServiceID

// Server is implemented by a live service instance. The registry only needs
// to know how to tear one down; dispatch (method lookup and invocation) is
// the server package's concern.
type Server interface {
	// Close releases any resources the server object itself owns. It is
	// called exactly once, when the entry is removed from the registry.
	Close() error
}

// Guard represents a held exclusive lock over an Entry. It is handed to a
// newly registered child so the child's eventual teardown can release the
// parent's lock — re-admitting calls on the parent, per spec §4.3's nesting
// invariant.
//
// Release is idempotent: at most one of "the dispatcher releases it because
// the call returned data" and "the child entry's teardown releases it" will
// actually unlock, but either caller may try.
type Guard struct {
	mu       *sync.Mutex
	relMu    sync.Mutex
	released bool
}

func newGuard(mu *sync.Mutex) *Guard {
	return &Guard{mu: mu}
}

// Release unlocks the guarded entry if it has not already been released.
// Release on a nil Guard (the root entry has no parent) is a no-op.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.relMu.Lock()
	defer g.relMu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.mu.Unlock()
}

// Entry is the unit held by the Registry: one live server object plus,
// optionally, the held lock of the parent entry it was returned from.
type Entry struct {
	mu          sync.Mutex
	server      Server
	parentGuard *Guard
}

// Server returns the entry's live server object. Only valid to dereference
// while holding the Guard returned alongside this Entry by Lock.
func (e *Entry) Server() Server { return e.server }

// LockResult reports the outcome of attempting to acquire an entry's lock.
type LockResult int

const (
	LockOK LockResult = iota
	LockUnknown
	LockBusy
)

// Registry is per connection: a mapping from ServiceID to live entries, plus
// the monotonic id allocator (spec §4.2).
type Registry struct {
	mu      sync.Mutex
	entries map[ServiceID]*Entry
	nextID  ServiceID
}

// New creates an empty registry with the allocator starting at 0.
func New() *Registry {
	return &Registry{entries: make(map[ServiceID]*Entry)}
}

// nextUnused returns the next ServiceID not currently present in the
// registry, starting from the current counter and wrapping around on
// overflow (spec §4.2). Callers must hold r.mu.
func (r *Registry) nextUnused() ServiceID {
	for {
		id := r.nextID
		r.nextID++ // wraps around per Go's unsigned overflow semantics
		if _, exists := r.entries[id]; !exists {
			return id
		}
	}
}

// Register inserts a new entry holding server, optionally parented on a
// held Guard, and returns its freshly allocated id.
func (r *Registry) Register(server Server, parent *Guard) ServiceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextUnused()
	r.entries[id] = &Entry{server: server, parentGuard: parent}
	return id
}

// Lock looks up id and attempts to acquire its entry's lock in one step, so
// a CallMethod or DropService request gets exactly one of three outcomes:
// unknown service, busy (a descendant is alive), or a held Guard plus the
// Entry to dispatch against (spec §4.4).
func (r *Registry) Lock(id ServiceID) (*Entry, *Guard, LockResult) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil, LockUnknown
	}
	if !entry.mu.TryLock() {
		return nil, nil, LockBusy
	}
	return entry, newGuard(&entry.mu), LockOK
}

// Remove locks and detaches the entry for id in one step, mirroring Lock's
// three outcomes. A successful Remove leaves the entry's mutex held (by the
// returned Guard) only long enough for the caller to close the server object
// and release its parent guard — nothing else can observe the id again since
// it is already gone from the map.
func (r *Registry) Remove(id ServiceID) (*Entry, *Guard, LockResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, nil, LockUnknown
	}
	if !entry.mu.TryLock() {
		return nil, nil, LockBusy
	}
	delete(r.entries, id)
	return entry, newGuard(&entry.mu), LockOK
}

// ParentGuard returns the entry's own parent guard, so the dispatch loop can
// release it once the entry itself has been torn down.
func (e *Entry) ParentGuard() *Guard { return e.parentGuard }

// Len reports the number of live entries. Used by connection teardown to
// verify the no-leaks property (spec §8 property 6).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Drain forcibly tears down every remaining entry, releasing each one's
// parent guard as it goes (spec §4.4 point 3 / §5). It is called when a
// connection terminates — by error or otherwise — so every still-open
// capability is destroyed the way a well-behaved client would have closed
// them, without requiring one.
//
// Entries are closed in map iteration order, not leaves first: a parent's
// server object may be closed before its children's. Each parent lock is
// held by exactly one child's guard and unlocking never blocks, so the
// guards themselves can be released in any order; each entry's parentGuard
// is released right after that entry's own server is closed.
func (r *Registry) Drain() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[ServiceID]*Entry)
	r.mu.Unlock()

	var result *multierror.Error
	for _, entry := range entries {
		if err := entry.server.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		entry.parentGuard.Release()
	}
	return result.ErrorOrNil()
}
