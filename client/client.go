// Package client implements the capability proxy: the caller-side half of
// the wire protocol in package protocol (spec §4.5).
//
// Unlike the teacher's Client, which resolves a service name through
// discovery/load-balancing and multiplexes many concurrent calls over a
// shared transport pool, a Proxy here names one already-live ServiceID and
// the Conn it rides on allows exactly one outstanding call at a time (spec
// §5) — so there is no pending-map, no sequence numbers, and no recvLoop.
// Nesting replaces multiplexing: concurrency comes from having many Proxy
// values (one per live capability), not from many calls in flight on one.
package client

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/protocol"
)

var (
	// ErrDoubleClose is returned by a second Close call on the same Proxy.
	ErrDoubleClose = errors.New("client: proxy closed twice")

	// ErrProtocolViolation means the server replied with a tag or kind the
	// request didn't call for (e.g. DropServiceDone answering a CallMethod).
	// The server is trusted (spec §7), so this is never expected in
	// practice; seeing it means the two ends disagree about the protocol.
	ErrProtocolViolation = errors.New("client: protocol violation")

	// ErrConnectionClosed wraps any I/O failure on the underlying Conn.
	ErrConnectionClosed = errors.New("client: connection closed")

	// ErrChildrenStillOpen is returned by Close when a Proxy it produced via
	// CallService is still open. This is enforced entirely client-side,
	// without any wire traffic — the mirror of the server's own ServiceBusy
	// check, applied a step earlier so a buggy close order never even
	// reaches the network (spec §8 S4).
	ErrChildrenStillOpen = errors.New("client: proxy has open children")
)

// Conn is the shared duplex channel every Proxy descended from the same
// connection's root capability rides on. mu enforces the "one outstanding
// call at a time" invariant (spec §5) — a nested call made from inside a
// handler that somehow reentered the same connection would simply block,
// never corrupt the stream.
type Conn struct {
	nc net.Conn
	mu sync.Mutex
}

// Dial opens a TCP connection and returns the Proxy for its initial
// capability — ServiceID 0, bootstrapped without any wire exchange, the
// mirror image of the server registering its initial Service at id 0 (spec
// §6 "Connection bootstrap").
func Dial(network, address string, vc codec.Codec) (*Proxy, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return Bootstrap(&Conn{nc: nc}, vc), nil
}

// Bootstrap wraps an already-established connection as the root Proxy
// (ServiceID 0). Exposed separately from Dial so tests and in-process
// callers can hand in a net.Pipe or other net.Conn directly.
func Bootstrap(conn *Conn, vc codec.Codec) *Proxy {
	return newProxy(conn, 0, vc, nil)
}

// NewConn wraps an already-dialed net.Conn for use with Bootstrap. This is
// the hook a locator or connection pool uses to hand Bootstrap a
// pre-established connection instead of going through Dial.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Close closes the underlying connection. Call this only after every Proxy
// descended from it has been closed; closing out from under a live child
// abandons whatever reply it was waiting for.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// roundTrip sends req and returns the matching reply, serialized against
// concurrent callers on the same Conn by mu.
func (c *Conn) roundTrip(req message.ClientMessage) (message.ServerMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := protocol.WriteFrame(c.nc, protocol.EncodeClient(req)); err != nil {
		return message.ServerMessage{}, errors.Wrap(ErrConnectionClosed, err.Error())
	}
	body, err := protocol.ReadFrame(c.nc)
	if err != nil {
		return message.ServerMessage{}, errors.Wrap(ErrConnectionClosed, err.Error())
	}
	reply, err := protocol.DecodeServer(body)
	if err != nil {
		return message.ServerMessage{}, errors.Wrap(ErrProtocolViolation, err.Error())
	}
	return reply, nil
}

// Proxy is a capability handle: an unforgeable reference to one live
// service object on the far end of a Conn (spec §4.5). It must be closed
// exactly once, and every Proxy it ever produced (by calling a
// service-returning method) must be closed first — the server enforces
// this ordering itself (ServiceBusy), but a well-behaved client never
// relies on that and closes children before parents.
type Proxy struct {
	id           message.ServiceID
	conn         *Conn
	vc           codec.Codec
	closed       atomic.Bool
	parent       *Proxy
	liveChildren atomic.Int32
}

func newProxy(conn *Conn, id message.ServiceID, vc codec.Codec, parent *Proxy) *Proxy {
	p := &Proxy{id: id, conn: conn, vc: vc, parent: parent}
	runtime.SetFinalizer(p, finalizeUnclosedProxy)
	return p
}

// finalizeUnclosedProxy is the diagnostic of last resort for a Proxy that
// reaches garbage collection without Close having run (spec §9: "a language
// without a borrow checker can at best detect this at runtime"). A
// finalizer panic is fatal to the whole program, which is the point: a
// dropped-without-close capability is a programmer error, not a recoverable
// condition, and silently leaking it server-side would defeat the point of
// the invariant.
func finalizeUnclosedProxy(p *Proxy) {
	if !p.closed.Load() {
		panic("client: Proxy for service id " + proxyIDString(p.id) + " garbage collected without Close")
	}
}

func proxyIDString(id message.ServiceID) string {
	const hex = "0123456789abcdef"
	if id == 0 {
		return "0"
	}
	buf := make([]byte, 0, 20)
	for id > 0 {
		buf = append([]byte{hex[id%16]}, buf...)
		id /= 16
	}
	return string(buf)
}

// ID returns the capability's ServiceID, for logging only — it carries no
// authority on its own outside the Conn it was issued on.
func (p *Proxy) ID() message.ServiceID { return p.id }

// Call invokes a data-returning method: args is encoded as the positional
// argument tuple, the reply payload is decoded into reply.
func (p *Proxy) Call(mid message.MethodID, args any, reply any) error {
	if p.closed.Load() {
		return errors.New("client: call on a closed proxy")
	}

	argBytes, err := p.vc.Encode(args)
	if err != nil {
		return errors.Wrap(err, "client: encoding call arguments")
	}

	resp, err := p.conn.roundTrip(message.CallMethod(p.id, mid, argBytes))
	if err != nil {
		return err
	}
	if resp.Tag != message.ServerMethodReturned {
		panic(ErrProtocolViolation)
	}
	if resp.Return.Kind != message.ReturnData {
		panic(errors.Wrap(ErrProtocolViolation, "expected a data reply, got a service reply"))
	}
	if reply != nil {
		if err := p.vc.Decode(resp.Return.Data, reply); err != nil {
			// A well-formed server never sends a reply its own codec can't
			// decode (spec §7: the server is trusted); treat this the same
			// as any other protocol violation rather than as a caller error.
			panic(errors.Wrap(err, "client: malformed reply payload"))
		}
	}
	return nil
}

// CallService invokes a service-returning method: args is encoded the same
// way as Call, but the reply is a freshly minted child Proxy borrowing from
// p for as long as it stays open.
func (p *Proxy) CallService(mid message.MethodID, args any) (*Proxy, error) {
	if p.closed.Load() {
		return nil, errors.New("client: call on a closed proxy")
	}

	argBytes, err := p.vc.Encode(args)
	if err != nil {
		return nil, errors.Wrap(err, "client: encoding call arguments")
	}

	resp, err := p.conn.roundTrip(message.CallMethod(p.id, mid, argBytes))
	if err != nil {
		return nil, err
	}
	if resp.Tag != message.ServerMethodReturned {
		panic(ErrProtocolViolation)
	}
	if resp.Return.Kind != message.ReturnService {
		panic(errors.Wrap(ErrProtocolViolation, "expected a service reply, got a data reply"))
	}
	child := newProxy(p.conn, resp.Return.Service, p.vc, p)
	p.liveChildren.Add(1)
	return child, nil
}

// Close releases the capability. Closing twice returns ErrDoubleClose
// rather than re-sending DropService, since the server has already freed
// the id and may have reassigned it to an unrelated object by the time a
// second Close call would reach the wire. Closing a Proxy that still has
// an open child returns ErrChildrenStillOpen without any wire traffic at
// all — the scoping violation never gets the chance to become a
// ServiceBusy round trip.
func (p *Proxy) Close() error {
	if p.liveChildren.Load() > 0 {
		return ErrChildrenStillOpen
	}
	if !p.closed.CompareAndSwap(false, true) {
		return ErrDoubleClose
	}
	runtime.SetFinalizer(p, nil)

	resp, err := p.conn.roundTrip(message.DropService(p.id))
	if err != nil {
		return err
	}
	if resp.Tag != message.ServerDropServiceDone {
		panic(ErrProtocolViolation)
	}
	if p.parent != nil {
		p.parent.liveChildren.Add(-1)
	}
	return nil
}
