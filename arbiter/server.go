// File: arbiter/server.go
// Author: momentics <momentics@gmail.com>
//
// Server wires an Arbiter to a filesystem-named Unix stream socket and
// a reactor.Reactor: the listen socket, every accepted client socket,
// every preemption timerfd, and the termination eventfd all multiplex
// through one epoll instance. The event loop goroutine is the
// sole mutator of Arbiter state; there are no locks.
package arbiter

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/corearbiterd/api"
	"github.com/momentics/corearbiterd/cpuset"
	"github.com/momentics/corearbiterd/pool"
	"github.com/momentics/corearbiterd/reactor"
	"github.com/momentics/corearbiterd/wire"
)

// readChunk is the size of the scratch buffer each socket read fills
// before frames are carved out of the per-connection pending buffer.
// Large enough for a registration with a long shm path plus several
// coalesced request frames.
const readChunk = 512

// Server owns the listen socket and per-connection read buffering on
// top of an Arbiter.
type Server struct {
	log hclog.Logger
	cfg Config
	a   *Arbiter

	ctl   *cpuset.Controller
	react *reactor.Reactor

	listenFd int
	termFd   int

	conns    map[int]*connState
	connPool *pool.SyncPool[*connState]
	readBufs api.BytePool

	arbitrating bool

	stopOnce sync.Once
	doneCh   chan struct{}
}

// connState accumulates bytes read from one client socket until at
// least one complete frame is pending. Stream sockets may coalesce
// several frames into one read or split a frame across two; pending
// carries the remainder between readiness callbacks.
type connState struct {
	fd         int
	registered bool
	pending    []byte
}

func (c *connState) reset(fd int) {
	c.fd = fd
	c.registered = false
	c.pending = c.pending[:0]
}

// NewServer constructs a Server. Socket creation happens in Start, not
// here, so construction never fails on environmental grounds.
func NewServer(log hclog.Logger, cfg Config, ctl *cpuset.Controller, metrics Metrics) (*Server, error) {
	react, err := reactor.New()
	if err != nil {
		return nil, errors.Wrap(err, "arbiter: create reactor")
	}
	a := NewArbiter(log, cfg, ctl, react, metrics)
	s := &Server{
		log:      log.Named("server"),
		cfg:      cfg,
		a:        a,
		ctl:      ctl,
		react:    react,
		listenFd: -1,
		conns:    make(map[int]*connState),
		connPool: pool.NewSyncPool(func() *connState { return &connState{} }),
		readBufs: pool.NewBytePool(readChunk),
		doneCh:   make(chan struct{}),
	}
	a.SetSocketWriter(s.writeByte)
	return s, nil
}

// Start binds the listen socket and registers it, together with the
// termination eventfd, with the reactor. The cpuset hierarchy is built
// immediately when Config.ImmediateArbitration is set, otherwise
// lazily when the first client connects. Any failure here is fatal:
// the machine or invocation is misconfigured.
func (s *Server) Start() error {
	if s.cfg.ImmediateArbitration {
		if err := s.beginArbitration(); err != nil {
			return err
		}
	}

	_ = os.Remove(s.cfg.SocketPath)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return errors.Wrap(err, "arbiter: create listen socket")
	}
	addr := &unix.SockaddrUnix{Name: s.cfg.SocketPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return errors.Wrapf(err, "arbiter: bind %s", s.cfg.SocketPath)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "arbiter: listen")
	}
	s.listenFd = fd
	if err := s.react.Register(fd, reactor.EventRead, s.onListenReadable); err != nil {
		return errors.Wrap(err, "arbiter: register listen socket")
	}

	termFd, err := reactor.NewEventfd()
	if err != nil {
		return errors.Wrap(err, "arbiter: create termination eventfd")
	}
	s.termFd = termFd
	if err := s.react.Register(termFd, reactor.EventRead, s.onTerminate); err != nil {
		return errors.Wrap(err, "arbiter: register termination eventfd")
	}

	s.log.Info("arbiter listening", "socket", s.cfg.SocketPath,
		"exclusive_cores", cpuset.New(s.cfg.ExclusiveCores...).String())
	return nil
}

// beginArbitration builds the cpuset hierarchy. Called from Start when
// arbitration is immediate, or from the first accept when deferred.
func (s *Server) beginArbitration() error {
	if s.arbitrating {
		return nil
	}
	if err := s.ctl.Start(cpuset.New(s.cfg.ExclusiveCores...)); err != nil {
		return errors.Wrap(err, "arbiter: build cpuset hierarchy")
	}
	s.arbitrating = true
	return nil
}

// Signal writes to the termination eventfd, the only mechanism that
// unblocks the event loop for shutdown. Safe to call from a signal
// handler's notify goroutine.
func (s *Server) Signal() {
	if s.termFd > 0 {
		reactor.SignalEventfd(s.termFd)
	}
}

// Run drains the event loop until Signal triggers the termination
// eventfd, returning cleanly once the loop observes it.
func (s *Server) Run() error {
	for {
		if err := s.react.Poll(1000); err != nil {
			return errors.Wrap(err, "arbiter: poll")
		}
		if s.isStopped() {
			return nil
		}
	}
}

func (s *Server) isStopped() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}

func (s *Server) onTerminate(fd int, kind reactor.EventKind) {
	reactor.DrainEventfd(fd)
	s.stopOnce.Do(func() { close(s.doneCh) })
}

// Shutdown tears down every client connection, the listen socket, and
// the cpuset hierarchy, in that order. It satisfies
// api.GracefulShutdown so the daemon entrypoint can stop the server
// through the same contract every other component uses.
func (s *Server) Shutdown() error {
	for fd := range s.conns {
		s.closeConn(fd)
	}
	if s.listenFd >= 0 {
		s.react.Unregister(s.listenFd)
		unix.Close(s.listenFd)
		os.Remove(s.cfg.SocketPath)
	}
	if s.termFd > 0 {
		s.react.Unregister(s.termFd)
		reactor.CloseFd(s.termFd)
	}
	if !s.arbitrating {
		return nil
	}
	return s.ctl.Stop()
}

var _ api.GracefulShutdown = (*Server)(nil)

func (s *Server) onListenReadable(fd int, kind reactor.EventKind) {
	for {
		clientFd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.log.Warn("accept failed", "error", err)
			return
		}
		if err := s.beginArbitration(); err != nil {
			s.log.Error("deferred cpuset hierarchy setup failed", "error", err)
			unix.Close(clientFd)
			s.Signal()
			return
		}
		conn := s.connPool.Get()
		conn.reset(clientFd)
		s.conns[clientFd] = conn
		if err := s.react.Register(clientFd, reactor.EventRead, s.onClientReadable); err != nil {
			s.log.Warn("failed to register client socket", "fd", clientFd, "error", err)
			unix.Close(clientFd)
			delete(s.conns, clientFd)
			s.connPool.Put(conn)
		}
	}
}

func (s *Server) onClientReadable(fd int, kind reactor.EventKind) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	buf := s.readBufs.Acquire(readChunk)
	n, err := unix.Read(fd, buf)
	if err != nil {
		s.readBufs.Release(buf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.closeConn(fd)
		return
	}
	if n == 0 {
		s.readBufs.Release(buf)
		s.closeConn(fd)
		return
	}
	conn.pending = append(conn.pending, buf[:n]...)
	s.readBufs.Release(buf)
	s.drainFrames(conn)
}

// drainFrames consumes every complete frame pending on conn. A partial
// frame tail is left for the next readiness callback; a malformed one
// closes the connection as a client fault.
func (s *Server) drainFrames(conn *connState) {
	for len(conn.pending) > 0 {
		if _, stillOpen := s.conns[conn.fd]; !stillOpen {
			return
		}
		if !conn.registered {
			consumed, ok := s.handleRegistration(conn)
			if !ok {
				return
			}
			conn.pending = conn.pending[consumed:]
			continue
		}
		consumed, ok := s.handleRequest(conn)
		if !ok {
			return
		}
		conn.pending = conn.pending[consumed:]
	}
}

// handleRegistration decodes and applies the first frame on a
// connection. ok=false means stop draining: either the frame is still
// incomplete or the connection was closed.
func (s *Server) handleRegistration(conn *connState) (consumed int, ok bool) {
	reg, consumed, err := wire.DecodeRegistration(conn.pending)
	if err == wire.ErrShortRead {
		return 0, false
	}
	if err != nil {
		s.log.Warn("malformed registration", "fd", conn.fd, "error", err)
		s.closeConn(conn.fd)
		return 0, false
	}
	resp := s.a.RegisterThread(conn.fd, reg)
	if _, err := unix.Write(conn.fd, resp); err != nil {
		s.closeConn(conn.fd)
		return 0, false
	}
	if resp[0] == 0 {
		s.closeConn(conn.fd)
		return 0, false
	}
	conn.registered = true
	return consumed, true
}

// handleRequest decodes and dispatches one post-registration frame.
func (s *Server) handleRequest(conn *connState) (consumed int, ok bool) {
	op, err := wire.DecodeOpcode(conn.pending)
	if err != nil {
		s.log.Warn("malformed opcode", "fd", conn.fd, "error", err)
		s.closeConn(conn.fd)
		return 0, false
	}
	frameLen := 1 + wire.PayloadLen(op, s.cfg.NumPriorities)
	if len(conn.pending) < frameLen {
		return 0, false
	}
	payload := conn.pending[1:frameLen]

	switch op {
	case wire.OpThreadBlock:
		if !s.a.HandleThreadBlock(conn.fd) {
			s.log.Warn("THREAD_BLOCK from unknown thread", "fd", conn.fd)
			s.closeConn(conn.fd)
			return 0, false
		}
	case wire.OpCoreRequest:
		desired, err := wire.DecodeCoreRequest(payload, s.cfg.NumPriorities)
		if err != nil {
			s.closeConn(conn.fd)
			return 0, false
		}
		s.a.HandleCoreRequest(conn.fd, desired)
	case wire.OpCountBlocked:
		unix.Write(conn.fd, s.a.HandleCountBlocked())
	case wire.OpTotalAvailable:
		unix.Write(conn.fd, s.a.HandleTotalAvailable())
	}
	return frameLen, true
}

func (s *Server) closeConn(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	s.react.Unregister(fd)
	unix.Close(fd)
	delete(s.conns, fd)
	s.a.CleanupConnection(fd)
	s.connPool.Put(conn)
}

func (s *Server) writeByte(fd int, b byte) error {
	_, err := unix.Write(fd, []byte{b})
	return err
}

// SetPreemptionTimeout forwards to the arbiter; exposed on Server so
// the daemon entrypoint only holds one handle.
func (s *Server) SetPreemptionTimeout(ms int) {
	s.a.SetPreemptionTimeout(ms)
}

// DebugState snapshots the arbiter's bookkeeping for the control
// package's debug probes. Reading maps off the event loop goroutine is
// a diagnostic-only race the probe accepts; the values are advisory.
func (s *Server) DebugState() map[string]any {
	return map[string]any{
		"threads":   len(s.a.threads),
		"processes": len(s.a.procs),
		"cores":     int(s.a.TotalAvailableCores()),
		"blocked":   int(s.a.CountBlockedThreads()),
	}
}
