package locator

import (
	"fmt"
	"net"
	"sync"
)

// warmPool pre-dials TCP connections to one address so Dialer.Dial can hand
// a connection to a new root Proxy without paying handshake latency on the
// caller's critical path.
//
// Unlike the teacher's ConnPool, there is no Put/return path: once a
// connection becomes a Proxy's Conn it is owned by that capability session
// for its entire lifetime (spec §4.5) — dropping the root capability ends
// the session, it doesn't free the connection for a new one. So this pool
// only ever grows forward: Get consumes one warm connection (dialing
// synchronously if the buffer is empty) and the caller never gives it back.
type warmPool struct {
	mu       sync.Mutex
	conns    chan net.Conn
	addr     string
	maxConns int
	curConns int
	factory  func() (net.Conn, error)
}

// newWarmPool creates a pool of at most maxConns pre-dialed connections to
// addr, created lazily via factory.
func newWarmPool(addr string, maxConns int, factory func() (net.Conn, error)) *warmPool {
	return &warmPool{
		conns:    make(chan net.Conn, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// prewarm dials up to n connections ahead of demand, filling the buffer in
// the background.
func (p *warmPool) prewarm(n int) {
	for i := 0; i < n; i++ {
		go func() {
			conn, err := p.createNew()
			if err != nil {
				return
			}
			select {
			case p.conns <- conn:
			default:
				conn.Close()
				p.mu.Lock()
				p.curConns--
				p.mu.Unlock()
			}
		}()
	}
}

// get returns a connection, preferring an already-warm one from the
// buffer and falling back to a synchronous dial.
func (p *warmPool) get() (net.Conn, error) {
	select {
	case conn := <-p.conns:
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return conn, nil
	default:
		return p.factory()
	}
}

func (p *warmPool) createNew() (net.Conn, error) {
	p.mu.Lock()
	if p.curConns >= p.maxConns {
		p.mu.Unlock()
		return nil, fmt.Errorf("locator: warm pool for %s exhausted", p.addr)
	}
	p.curConns++
	p.mu.Unlock()

	conn, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

// close drains and closes every buffered connection that was never handed
// out.
func (p *warmPool) close() error {
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
	}
	return nil
}
