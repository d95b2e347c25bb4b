// Package server implements the capability RPC server: the dispatch loop
// that reads ClientMessage frames, locates and locks the named service
// entry, invokes its typed Dispatch, and writes back the ServerMessage reply
// (spec §4.4), plus the accept loop that bootstraps one Registry and one
// initial service per accepted connection (spec §6).
//
// Request processing pipeline, adapted from the teacher's read-loop/
// write-lock split (mini-rpc/server) but sequential rather than parallel:
// this protocol allows exactly one outstanding call per connection, so
// unlike mini-rpc's handleConn (which spawns a goroutine per request),
// handleConn here never moves past the next ReadFrame until the previous
// reply has been written.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/middleware"
	"github.com/bx-d/nestrpc/protocol"
	"github.com/bx-d/nestrpc/registry"
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger sets the server's structured logger (default: a disabled
// logger, matching how quiet a library should be without explicit opt-in).
func WithLogger(logger hclog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAdmission bounds the rate at which new connections are accepted,
// adapted from the teacher's per-call RateLimitMiddleware into a per-accept
// limiter (see SPEC_FULL.md §B) — an operational safety valve, not an
// authorization check.
func WithAdmission(r float64, burst int) Option {
	return func(s *Server) { s.admission = rate.NewLimiter(rate.Limit(r), burst) }
}

// WithMiddleware installs the call-instrumentation chain (see the
// middleware package) wrapped around every Dispatch invocation.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.chain = middleware.Chain(mws...) }
}

// Server accepts connections and runs the capability dispatch loop on each.
type Server struct {
	initial   Factory
	logger    hclog.Logger
	admission *rate.Limiter
	chain     middleware.Middleware

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// New creates a server whose every connection starts from a fresh service
// built by initial.
func New(initial Factory, opts ...Option) *Server {
	s := &Server{
		initial: initial,
		logger:  hclog.NewNullLogger(),
		chain:   middleware.Chain(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve listens on address and runs the accept loop until the listener is
// closed (normally via Shutdown) or a non-shutdown Accept error occurs.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener

	for {
		if s.admission != nil {
			if err := s.admission.Wait(context.Background()); err != nil {
				return err
			}
		}
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops accepting new connections and waits up to timeout for every
// open connection to end. It does not close open connections itself; each
// one ends when its client disconnects or its dispatch loop hits a fatal
// error.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: shutdown timed out waiting for connections to drain")
	}
}

// handleConn owns one connection end to end: it bootstraps the connection's
// registry and initial service, runs the strictly sequential request/reply
// loop, and guarantees the registry is fully drained (spec §8 property 6,
// "no leaks") no matter how the loop exits.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	logger := s.logger.Named("conn").With("conn_id", connID, "remote", conn.RemoteAddr())

	reg := registry.New()
	initialID := reg.Register(s.initial(), nil)
	if initialID != 0 {
		// An invariant of the allocator, not a reachable runtime condition —
		// see registry.Registry.nextUnused.
		panic("server: initial service did not get id 0")
	}

	logger.Info("connection established")
	defer func() {
		remaining := reg.Len()
		if err := reg.Drain(); err != nil {
			logger.Warn("error closing services on teardown", "error", err)
		}
		logger.Info("connection closed", "services_leaked", remaining)
	}()

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			logger.Debug("connection read ended", "error", err)
			return
		}

		clientMsg, err := protocol.DecodeClient(payload)
		if err != nil {
			logger.Warn("malformed frame, closing connection", "error", err)
			return
		}

		reply, fatal := s.dispatchOne(reg, clientMsg, logger, connID)
		if fatal {
			return
		}

		if err := protocol.WriteFrame(conn, protocol.EncodeServer(reply)); err != nil {
			logger.Debug("connection write failed", "error", err)
			return
		}
	}
}

// dispatchOne processes exactly one ClientMessage and reports whether the
// connection must be terminated afterward (spec §4.4 / §7: UnknownService,
// ServiceBusy, and UserFailure are all fatal to the connection).
func (s *Server) dispatchOne(reg *registry.Registry, msg message.ClientMessage, logger hclog.Logger, connID string) (message.ServerMessage, bool) {
	switch msg.Tag {
	case message.ClientDropService:
		return s.dispatchDrop(reg, msg.DropID, logger)
	case message.ClientCallMethod:
		return s.dispatchCall(reg, msg, logger, connID)
	default:
		logger.Error("unknown client message tag")
		return message.ServerMessage{}, true
	}
}

func (s *Server) dispatchDrop(reg *registry.Registry, id message.ServiceID, logger hclog.Logger) (message.ServerMessage, bool) {
	entry, _, res := reg.Remove(id)
	switch res {
	case registry.LockUnknown:
		logger.Warn("DropService on unknown service", "service_id", id)
		return message.ServerMessage{}, true
	case registry.LockBusy:
		logger.Warn("DropService on busy (still-parenting) service", "service_id", id)
		return message.ServerMessage{}, true
	}

	if err := entry.Server().Close(); err != nil {
		logger.Warn("service close error", "service_id", id, "error", err)
	}
	entry.ParentGuard().Release()
	return message.DropServiceDone(), false
}

func (s *Server) dispatchCall(reg *registry.Registry, msg message.ClientMessage, logger hclog.Logger, connID string) (message.ServerMessage, bool) {
	entry, guard, res := reg.Lock(msg.CallID)
	switch res {
	case registry.LockUnknown:
		logger.Warn("CallMethod on unknown service", "service_id", msg.CallID)
		return message.ServerMessage{}, true
	case registry.LockBusy:
		logger.Warn("CallMethod on busy service", "service_id", msg.CallID)
		return message.ServerMessage{}, true
	}

	info := middleware.CallInfo{ConnID: connID, ServiceID: msg.CallID, Method: msg.Method}
	rv, err := s.chain(info, func() (message.ReturnValue, error) {
		return entry.Server().Dispatch(msg.Method, msg.CallArgs, reg, guard)
	})
	if err != nil {
		// The handler never got to (or chose not to) transfer guard
		// ownership into a child entry, so this dispatcher releases it.
		guard.Release()
		logger.Error("handler returned an error, closing connection",
			"service_id", msg.CallID, "method_id", msg.Method, "error", err)
		return message.ServerMessage{}, true
	}

	if rv.Kind == message.ReturnData {
		guard.Release()
	}
	// rv.Kind == message.ReturnService: Dispatch's contract requires it to
	// have already called reg.Register(child, guard), transferring release
	// to the child entry's eventual teardown.
	return message.MethodReturned(rv), false
}
