// File: socket/endpoint.go
// Package socket implements the cancellable raw-socket layer: bind, listen,
// accept, connect, send, recv, each abortable via a cancel.Token. The Go
// runtime's netpoller is the readiness substrate; a reactor.Reactor can be
// layered on top for poll-mode accept loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package socket

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Family distinguishes the address family of an Endpoint.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// Endpoint is an immutable address family + 16-byte address slot + port,
// parsed from "host:port" or "[ipv6]:port".
type Endpoint struct {
	family Family
	addr   [16]byte
	port   uint16
	zone   string
}

// ParseEndpoint parses "A.B.C.D:port" or "[hex:...:hex]:port".
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("socket: parse endpoint %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("socket: parse endpoint port %q: %w", s, err)
	}
	return EndpointFromIP(host, uint16(port))
}

// EndpointFromIP builds an Endpoint from a host literal (IPv4 or IPv6,
// optionally with a zone suffix after '%') and a port.
func EndpointFromIP(host string, port uint16) (Endpoint, error) {
	zone := ""
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		zone = host[idx+1:]
		host = host[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Allow empty host to mean "any address" (for bind/listen).
		if host == "" {
			return Endpoint{family: FamilyV4, port: port}, nil
		}
		return Endpoint{}, fmt.Errorf("socket: invalid IP literal %q", host)
	}
	ep := Endpoint{port: port, zone: zone}
	if v4 := ip.To4(); v4 != nil {
		ep.family = FamilyV4
		copy(ep.addr[:4], v4)
	} else {
		ep.family = FamilyV6
		copy(ep.addr[:], ip.To16())
	}
	return ep, nil
}

// Family reports the endpoint's address family.
func (e Endpoint) Family() Family { return e.family }

// Port reports the endpoint's port number.
func (e Endpoint) Port() uint16 { return e.port }

// IP renders the endpoint's address as a net.IP.
func (e Endpoint) IP() net.IP {
	if e.family == FamilyV4 {
		ip := make(net.IP, 4)
		copy(ip, e.addr[:4])
		return ip
	}
	ip := make(net.IP, 16)
	copy(ip, e.addr[:])
	return ip
}

// String renders the endpoint in "host:port" / "[ipv6]:port" form.
func (e Endpoint) String() string {
	host := e.IP().String()
	if e.zone != "" {
		host += "%" + e.zone
	}
	return net.JoinHostPort(host, strconv.Itoa(int(e.port)))
}
