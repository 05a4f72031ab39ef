// File: socket/socket.go
// Package socket: see endpoint.go for the address type.
//
// Socket wraps a single OS descriptor through the states created, bound,
// listening, connected, shutdown-send, shutdown-recv, closed. Every
// blocking operation takes a cancel.Token and races the underlying
// net.Conn call against the token's Done channel, so a cancelled caller
// resumes immediately while the abandoned syscall drains on its helper
// goroutine.
package socket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/momentics/hioload-http/cancel"
)

// state enumerates the socket's lifecycle.
type state int

const (
	stateCreated state = iota
	stateBound
	stateListening
	stateConnected
	stateShutdownSend
	stateShutdownRecv
	stateClosed
)

// ErrCancelled is returned by any awaitable operation aborted by its token.
var ErrCancelled = errors.New("socket: operation cancelled")

// Socket owns exactly one OS descriptor, surfaced through net.Listener or
// net.Conn depending on whether it is a listening or connected socket.
type Socket struct {
	mu    sync.Mutex
	state state

	ln   net.Listener
	conn net.Conn

	endpoint Endpoint
}

// New returns a freshly created, unbound Socket.
func New() *Socket {
	return &Socket{state: stateCreated}
}

// Bind associates the socket with a local endpoint. Actual OS bind happens
// at Listen time (net.Listen binds+listens atomically); Bind only records
// the intended address.
func (s *Socket) Bind(ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateCreated {
		return fmt.Errorf("socket: bind: %w", errBadState(s.state))
	}
	s.endpoint = ep
	s.state = stateBound
	return nil
}

// Listen starts listening on the bound endpoint.
func (s *Socket) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateBound {
		return fmt.Errorf("socket: listen: %w", errBadState(s.state))
	}
	ln, err := net.Listen("tcp", s.endpoint.String())
	if err != nil {
		return fmt.Errorf("socket: listen %s: %w", s.endpoint, err)
	}
	s.ln = ln
	s.state = stateListening
	return nil
}

// Accept blocks until a peer connects or tok cancels, writing the accepted
// connection into out. The caller allocates out, deciding v4/v6 and TLS
// wrapping up front by choosing which Socket to pass in.
func (s *Socket) Accept(out *Socket, tok cancel.Token) error {
	s.mu.Lock()
	ln := s.ln
	st := s.state
	s.mu.Unlock()
	if st != stateListening {
		return fmt.Errorf("socket: accept: %w", errBadState(st))
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case <-tok.Done():
		// Best-effort: close the listener side is too destructive, so we let
		// the goroutine's Accept eventually return and leak the conn to GC
		// if it lands after cancellation; short-lived in practice since the
		// listener itself is closed on server shutdown.
		return ErrCancelled
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("socket: accept: %w", r.err)
		}
		out.mu.Lock()
		out.conn = r.conn
		out.state = stateConnected
		out.mu.Unlock()
		return nil
	}
}

// Connect dials ep, suspending the caller until completion or cancellation.
func (s *Socket) Connect(ep Endpoint, tok cancel.Token) error {
	s.mu.Lock()
	if s.state != stateCreated {
		s.mu.Unlock()
		return fmt.Errorf("socket: connect: %w", errBadState(s.state))
	}
	s.mu.Unlock()

	dialer := net.Dialer{}
	ctx, cancelCtx := tok.Context(nil)
	defer cancelCtx()

	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		if tok.Cancelled() {
			return ErrCancelled
		}
		return fmt.Errorf("socket: connect %s: %w", ep, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.endpoint = ep
	s.state = stateConnected
	s.mu.Unlock()
	return nil
}

// Send writes up to len(p) bytes, possibly fewer; callers loop.
func (s *Socket) Send(p []byte, tok cancel.Token) (int, error) {
	s.mu.Lock()
	conn := s.conn
	st := s.state
	s.mu.Unlock()
	if conn == nil || st == stateClosed || st == stateShutdownSend {
		return 0, fmt.Errorf("socket: send: %w", errBadState(st))
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := conn.Write(p)
		ch <- result{n, err}
	}()

	select {
	case <-tok.Done():
		return 0, ErrCancelled
	case r := <-ch:
		if r.err != nil {
			return r.n, mapIOError(r.err)
		}
		return r.n, nil
	}
}

// Recv reads up to len(p) bytes; 0, nil means orderly peer close.
func (s *Socket) Recv(p []byte, tok cancel.Token) (int, error) {
	s.mu.Lock()
	conn := s.conn
	st := s.state
	s.mu.Unlock()
	if conn == nil || st == stateClosed || st == stateShutdownRecv {
		return 0, fmt.Errorf("socket: recv: %w", errBadState(st))
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := conn.Read(p)
		ch <- result{n, err}
	}()

	select {
	case <-tok.Done():
		return 0, ErrCancelled
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				return r.n, nil
			}
			return r.n, mapIOError(r.err)
		}
		return r.n, nil
	}
}

// CloseSend shuts down the write half, if supported by the transport.
func (s *Socket) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return err
		}
	}
	s.state = stateShutdownSend
	return nil
}

// CloseRecv shuts down the read half, if supported by the transport.
func (s *Socket) CloseRecv() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	if cr, ok := s.conn.(interface{ CloseRead() error }); ok {
		if err := cr.CloseRead(); err != nil {
			return err
		}
	}
	s.state = stateShutdownRecv
	return nil
}

// Disconnect closes the socket entirely.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	} else if s.ln != nil {
		err = s.ln.Close()
	}
	return err
}

// Conn exposes the underlying net.Conn for layers (TLS, buffered readers)
// that need direct access; it is nil for listening sockets.
func (s *Socket) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// SetConn installs an already-connected net.Conn (used by tlssocket once
// handshake establishes the encrypted net.Conn it decorates).
func (s *Socket) SetConn(c net.Conn) {
	s.mu.Lock()
	s.conn = c
	s.state = stateConnected
	s.mu.Unlock()
}

// SyscallFD exposes the OS descriptor of a listening socket for poll-mode
// integrations (reactor.Reactor readiness registration). ok is false when
// the socket is not listening or the platform listener hides its fd.
func (s *Socket) SyscallFD() (uintptr, bool) {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := rc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, false
	}
	return fd, true
}

// RemoteAddr returns the peer address of a connected socket.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Addr returns the bound address of a listening socket, or the local
// address of a connected one.
func (s *Socket) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr()
	}
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	return nil
}

func errBadState(st state) error {
	return fmt.Errorf("invalid socket state %d for this operation", st)
}

func mapIOError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset"):
		return fmt.Errorf("socket: connection_reset: %w", err)
	case strings.Contains(msg, "broken pipe"):
		return fmt.Errorf("socket: broken_pipe: %w", err)
	default:
		return err
	}
}
