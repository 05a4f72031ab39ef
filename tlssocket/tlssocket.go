// File: tlssocket/tlssocket.go
// Package tlssocket decorates socket.Socket with TLS: a VerifyMode,
// Encrypt driving the handshake to completion, and transparent
// encrypt/decrypt of send/recv once handshaked. tls.Conn already drives its
// record layer over any net.Conn without the caller managing read/write
// callbacks, so this package stays a thin adapter around the underlying
// socket.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package tlssocket

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/socket"
)

// VerifyMode controls peer certificate verification.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifyOptional
	VerifyRequired
)

// defaultTrustDirs are scanned, in order, for a system trust store;
// directories that don't exist are silently skipped.
var defaultTrustDirs = []string{
	"/etc/ssl/certs",
	"/usr/lib/ssl/certs",
	"/etc/openssl/certs",
}

var (
	trustOnce  sync.Once
	trustPool  *x509.CertPool
)

// globalTrust scans the default trust directories exactly once,
// process-wide. The pool is never mutated after initialization.
func globalTrust() *x509.CertPool {
	trustOnce.Do(func() {
		pool := x509.NewCertPool()
		for _, dir := range defaultTrustDirs {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				data, err := os.ReadFile(dir + "/" + e.Name())
				if err != nil {
					continue
				}
				pool.AppendCertsFromPEM(data)
			}
		}
		trustPool = pool
	})
	return trustPool
}

// Socket decorates a connected socket.Socket with a TLS session.
type Socket struct {
	raw  *socket.Socket
	conf *tls.Config
	tls  *tls.Conn

	handshaked bool
}

// New wraps raw with TLS configuration built from mode/hostName and an
// optional explicit certificate chain (used when the default trust
// directories are absent or insufficient).
func New(raw *socket.Socket, mode VerifyMode, hostName string, chain *x509.CertPool) *Socket {
	conf := &tls.Config{ServerName: hostName}
	switch mode {
	case VerifyNone:
		conf.InsecureSkipVerify = true
	case VerifyOptional, VerifyRequired:
		pool := chain
		if pool == nil {
			pool = globalTrust()
		}
		conf.RootCAs = pool
		conf.InsecureSkipVerify = mode == VerifyOptional
	}
	return &Socket{raw: raw, conf: conf}
}

// NewServer wraps raw with a server-side TLS configuration built from the
// given certificate.
func NewServer(raw *socket.Socket, cert tls.Certificate) *Socket {
	return &Socket{raw: raw, conf: &tls.Config{Certificates: []tls.Certificate{cert}}}
}

// SetHostName overrides the server name used for SNI and verification.
// Must be called before Encrypt.
func (s *Socket) SetHostName(name string) {
	s.conf.ServerName = name
}

// SetPeerVerifyMode switches the verification policy before Encrypt. The
// chain argument behaves as in New.
func (s *Socket) SetPeerVerifyMode(mode VerifyMode, chain *x509.CertPool) {
	switch mode {
	case VerifyNone:
		s.conf.InsecureSkipVerify = true
		s.conf.RootCAs = nil
	case VerifyOptional, VerifyRequired:
		pool := chain
		if pool == nil {
			pool = globalTrust()
		}
		s.conf.RootCAs = pool
		s.conf.InsecureSkipVerify = mode == VerifyOptional
	}
}

// Encrypt drives the TLS handshake to completion, honoring tok for
// cancellation the same way socket.Socket's other awaitable ops do.
func (s *Socket) Encrypt(tok cancel.Token, isServer bool) error {
	base := s.raw.Conn()
	if base == nil {
		return fmt.Errorf("tlssocket: underlying socket has no connection")
	}

	var tconn *tls.Conn
	if isServer {
		tconn = tls.Server(base, s.conf)
	} else {
		tconn = tls.Client(base, s.conf)
	}

	ctx, cancelCtx := tok.Context(nil)
	defer cancelCtx()

	done := make(chan error, 1)
	go func() { done <- tconn.HandshakeContext(ctx) }()

	select {
	case <-tok.Done():
		return fmt.Errorf("tlssocket: handshake: %w", socket.ErrCancelled)
	case err := <-done:
		if err != nil {
			return fmt.Errorf("tlssocket: handshake: %w", err)
		}
	}

	s.tls = tconn
	s.handshaked = true
	s.raw.SetConn(tconn)
	return nil
}

// Send writes through the TLS session once handshaked, or the raw socket
// otherwise (pre-handshake sends are used only for protocols that start in
// plaintext, e.g. STARTTLS-style upgrades not used by this toolkit's HTTP
// surface but kept for symmetry with Recv).
func (s *Socket) Send(p []byte, tok cancel.Token) (int, error) {
	return s.raw.Send(p, tok)
}

// Recv reads through the TLS session once handshaked.
func (s *Socket) Recv(p []byte, tok cancel.Token) (int, error) {
	return s.raw.Recv(p, tok)
}

// Raw exposes the underlying socket.Socket, whose Conn() is the tls.Conn
// after a successful Encrypt.
func (s *Socket) Raw() *socket.Socket { return s.raw }

// Handshaked reports whether Encrypt completed successfully.
func (s *Socket) Handshaked() bool { return s.handshaked }
