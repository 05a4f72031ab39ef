// File: server/server.go
// Package server implements the accept/spawn-per-connection driver: Serve
// listens on an endpoint, accepts until its cancellation source fires,
// spawns each connection's handler into a tracked scope, and drains that
// scope before returning.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-http/affinity"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/reactor"
	"github.com/momentics/hioload-http/socket"
	"github.com/momentics/hioload-http/tlssocket"
)

// Handler processes one accepted, (if configured) TLS-handshaked
// connection. It receives the connection's own cancellation token, derived
// from the server's source, so it can observe shutdown without a second
// signaling channel.
type Handler func(conn *socket.Socket, tok cancel.Token)

// Options configures optional TLS termination and limits.
type Options struct {
	// TLSCert, if non-nil, causes Serve to wrap every accepted connection
	// in a server-role TLS handshake before invoking Handler.
	TLSCert *tls.Certificate

	// ShutdownTimeout bounds how long Serve waits for in-flight handlers to
	// drain after the source is cancelled.
	ShutdownTimeout time.Duration

	// Logger receives structured per-connection and lifecycle events; if
	// nil, logrus.StandardLogger() is used.
	Logger *logrus.Logger

	// OnListening, if set, is called once with the listener's bound
	// address right after Listen succeeds — primarily so callers and
	// tests using an ephemeral (port 0) endpoint can learn the real port.
	OnListening func(addr net.Addr)

	// PinToCPU, if non-nil, pins the accept loop's OS thread to that
	// logical CPU before entering the accept loop. Best-effort: a platform
	// without affinity support only logs a warning.
	PinToCPU *int

	// Reactor, if non-nil, is used to wait for read-readiness on the
	// listening descriptor before each accept, instead of parking in a
	// blocking Accept. Pairs with PinToCPU to keep readiness wakeups and
	// accepts on one core. Ignored when the platform listener hides its
	// descriptor.
	Reactor reactor.Reactor

	// Metrics, if non-nil, is updated with live session counts for the
	// lifetime of the call to Serve.
	Metrics *Metrics
}

// Metrics tracks live connection counts for a running server and exposes
// them in the shared api.APIMetrics/api.ServiceInfo shapes so operators can
// report this server's health alongside any other component in the
// process. Cancelling src also satisfies api.GracefulShutdown.
type Metrics struct {
	info   api.ServiceInfo
	src    *cancel.Source
	active int64
	total  int64
}

// NewMetrics records name/version and the time of the call as StartedAt.
func NewMetrics(name, version string, src *cancel.Source) *Metrics {
	return &Metrics{
		info: api.ServiceInfo{Name: name, Version: version, StartedAt: time.Now()},
		src:  src,
	}
}

// Info returns the static service descriptor.
func (m *Metrics) Info() api.ServiceInfo { return m.info }

// Snapshot returns a point-in-time view of connection counters.
func (m *Metrics) Snapshot() api.APIMetrics {
	return api.APIMetrics{
		NumSessions: int(atomic.LoadInt64(&m.active)),
		NumMessages: int(atomic.LoadInt64(&m.total)),
		StartedAt:   m.info.StartedAt,
	}
}

// Shutdown implements api.GracefulShutdown by cancelling the server's
// cancellation source, which drives Serve's normal shutdown-and-drain path.
func (m *Metrics) Shutdown() error {
	m.src.Cancel(nil)
	return nil
}

var _ api.GracefulShutdown = (*Metrics)(nil)

// Serve listens on endpoint and accepts connections until src is cancelled,
// spawning handler into a tracked scope for each one:
//  1. listen
//  2. enter a scope tracking spawned tasks
//  3. repeat: accept -> optional TLS handshake -> spawn handler
//  4. on cancellation, stop accepting and drain the scope
//
// Serve returns once every spawned handler has returned (or the shutdown
// timeout elapses).
func Serve(ep socket.Endpoint, src *cancel.Source, handler Handler, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	ln := socket.New()
	if err := ln.Bind(ep); err != nil {
		return fmt.Errorf("server: bind: %w", err)
	}
	if err := ln.Listen(); err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	if opts.OnListening != nil {
		opts.OnListening(ln.Addr())
	}

	var scope sync.WaitGroup
	tok := src.Token()

	var ready chan struct{}
	if opts.Reactor != nil {
		if fd, ok := ln.SyscallFD(); ok {
			ready = make(chan struct{}, 1)
			err := opts.Reactor.Register(fd, reactor.EventRead, func(uintptr, reactor.FDEventType) {
				select {
				case ready <- struct{}{}:
				default:
				}
			})
			if err != nil {
				log.WithError(err).Warn("server: reactor registration failed, using blocking accept")
				ready = nil
			} else {
				defer opts.Reactor.Unregister(fd)
			}
		}
	}

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		if opts.PinToCPU != nil {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := affinity.SetAffinity(*opts.PinToCPU); err != nil {
				log.WithError(err).Warn("server: could not pin accept loop to CPU")
			}
		}
		for {
			if ready != nil {
				if err := awaitReadable(opts.Reactor, ready, tok); err != nil {
					return
				}
			}
			conn := socket.New()
			if err := ln.Accept(conn, tok); err != nil {
				if err == socket.ErrCancelled {
					return
				}
				log.WithError(err).Warn("server: accept failed")
				return
			}

			connTok := src.NewChild().Token()
			scope.Add(1)
			if opts.Metrics != nil {
				atomic.AddInt64(&opts.Metrics.active, 1)
				atomic.AddInt64(&opts.Metrics.total, 1)
			}
			go func() {
				defer scope.Done()
				defer conn.Disconnect()
				if opts.Metrics != nil {
					defer atomic.AddInt64(&opts.Metrics.active, -1)
				}
				defer func() {
					if rec := recover(); rec != nil {
						log.WithField("panic", rec).Error("server: handler panicked, dropping connection")
					}
				}()

				active := conn
				if opts.TLSCert != nil {
					tlsConn := tlssocket.NewServer(conn, *opts.TLSCert)
					if err := tlsConn.Encrypt(connTok, true); err != nil {
						log.WithError(err).Warn("server: tls handshake failed")
						return
					}
					active = tlsConn.Raw()
				}
				handler(active, connTok)
			}()
		}
	}()

	<-tok.Done()
	ln.Disconnect()
	<-acceptDone

	drained := make(chan struct{})
	go func() {
		scope.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(opts.ShutdownTimeout):
		log.Warn("server: shutdown timeout elapsed with handlers still running")
	}
	return nil
}

// awaitReadable drives r.Poll until the listener's readiness callback fires
// or tok cancels. A pending connection keeps the listening descriptor
// level-triggered readable, so the subsequent Accept will not block.
func awaitReadable(r reactor.Reactor, ready <-chan struct{}, tok cancel.Token) error {
	for {
		select {
		case <-ready:
			return nil
		case <-tok.Done():
			return socket.ErrCancelled
		default:
		}
		if err := r.Poll(200); err != nil {
			return err
		}
	}
}
