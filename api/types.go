// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared type declarations for session state and service reporting.

package api

import "time"

// SessionStatus enumerates the lifecycle of an upgraded (WebSocket) session.
type SessionStatus int

const (
	SessionUnknown SessionStatus = iota
	SessionConnecting
	SessionActive
	SessionClosing
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// APIMetrics is the standard layout for health/statistics reporting.
type APIMetrics struct {
	NumSessions     int
	NumMessages     int
	InboundTraffic  uint64 // bytes received
	OutboundTraffic uint64 // bytes sent
	StartedAt       time.Time
}

// ServiceInfo describes a running component for external tooling.
type ServiceInfo struct {
	Name      string
	Version   string
	Build     string
	StartedAt time.Time
}
