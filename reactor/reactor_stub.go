//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Fallback for platforms without an epoll binding. The Go runtime's
// netpoller covers readiness there; NewReactor errors so callers fall back
// to plain blocking accepts.

package reactor

import "errors"

// NewReactor returns an error for platforms without a native poller binding.
func NewReactor() (Reactor, error) {
	return nil, errors.New("reactor: no native poller binding for this platform")
}
