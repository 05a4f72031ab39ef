// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor defines the poll-mode readiness substrate: a single
// OS-level loop that descriptors are registered with and that delivers
// readable/writable/error notifications via callback.
//
// Most of the toolkit rides the Go runtime's own netpoller through plain
// net.Conn calls and never touches this package. The accept loop in the
// server package can optionally register its listening descriptor here
// instead, pairing with an affinity-pinned OS thread so readiness wakeups
// and accepts stay on one core.
package reactor

// FDEventType is a bitmask of readiness conditions reported for a descriptor.
type FDEventType int

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback is invoked by the reactor when a registered descriptor becomes ready.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor multiplexes readiness notifications for a set of OS descriptors.
type Reactor interface {
	// Register starts watching fd for the given event types, invoking cb on readiness.
	Register(fd uintptr, events FDEventType, cb FDCallback) error
	// Unregister stops watching fd.
	Unregister(fd uintptr) error
	// Poll blocks up to timeoutMs (negative means forever) delivering ready callbacks.
	Poll(timeoutMs int) error
	// Close releases the reactor's OS resources.
	Close() error
}
