// File: wsconn/handshake.go
// Package wsconn implements the WebSocket connection adapter layered atop
// an HTTP connection after the Upgrade handshake. Both handshake sides run
// over httpmsg/httpparse, so header handling here matches the rest of the
// HTTP surface exactly.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsconn

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/httpmsg"
	"github.com/momentics/hioload-http/httpparse"
	"github.com/momentics/hioload-http/socket"
)

// WebSocketGUID is the RFC 6455 magic accept-key suffix.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	ErrInvalidUpgrade   = errors.New("wsconn: invalid upgrade headers")
	ErrMissingKey       = errors.New("wsconn: missing Sec-WebSocket-Key")
	ErrBadVersion       = errors.New("wsconn: unsupported Sec-WebSocket-Version")
	ErrUpgradeRefused   = errors.New("wsconn: server refused upgrade")
	ErrBadAcceptHash    = errors.New("wsconn: Sec-WebSocket-Accept mismatch")
)

func containsToken(header, token string) bool {
	token = strings.ToLower(token)
	for _, part := range strings.Split(header, ",") {
		if strings.ToLower(strings.TrimSpace(part)) == token {
			return true
		}
	}
	return false
}

func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewClientKey generates a fresh 16-byte Sec-WebSocket-Key, base64 encoded.
func NewClientKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("wsconn: generate client key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// AcceptUpgrade reads a pending HTTP request off conn and, if it is a valid
// WebSocket upgrade, writes the 101 response and returns a server-role Conn.
func AcceptUpgrade(conn *socket.Socket, tok cancel.Token, path string) (*Conn, error) {
	rx := httpmsg.NewRxMessage(conn, tok, httpparse.KindRequest)
	head, err := rx.ReceiveHeader()
	if err != nil {
		return nil, err
	}
	if path != "" && head.Path != path {
		return nil, fmt.Errorf("%w: path %q does not match %q", ErrInvalidUpgrade, head.Path, path)
	}
	if !containsToken(head.Headers.Get("Connection"), "Upgrade") ||
		!containsToken(head.Headers.Get("Upgrade"), "websocket") {
		return nil, ErrInvalidUpgrade
	}
	if head.Headers.Get("Sec-WebSocket-Version") != "13" {
		return nil, ErrBadVersion
	}
	key := head.Headers.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrMissingKey
	}

	tx := httpmsg.NewTxMessage(conn, tok)
	h := tx.MakeResponseHeader(101, "Switching Protocols")
	h.Fields.Add("Upgrade", "websocket")
	h.Fields.Add("Connection", "Upgrade")
	h.Fields.Add("Sec-WebSocket-Accept", computeAccept(key))
	if err := tx.Send(h); err != nil {
		return nil, err
	}

	return newConn(conn, tok, RoleServer, rx.Leftover()), nil
}

// DialUpgrade performs the client side of the handshake over an already
// connected conn, returning a client-role Conn on success.
func DialUpgrade(conn *socket.Socket, tok cancel.Token, path string, extraHeaders map[string]string) (*Conn, error) {
	key, err := NewClientKey()
	if err != nil {
		return nil, err
	}

	tx := httpmsg.NewTxMessage(conn, tok)
	h := tx.MakeRequestHeader("GET", path)
	h.Fields.Add("Connection", "Upgrade")
	h.Fields.Add("Upgrade", "websocket")
	h.Fields.Add("Sec-WebSocket-Version", "13")
	h.Fields.Add("Sec-WebSocket-Key", key)
	for name, value := range extraHeaders {
		h.Fields.Add(name, value)
	}
	h.HasLength = true
	h.ContentLength = 0
	if err := tx.Send(h); err != nil {
		return nil, err
	}

	rx := httpmsg.NewRxMessage(conn, tok, httpparse.KindResponse)
	head, err := rx.ReceiveResponseHeader()
	if err != nil {
		return nil, err
	}
	if head.StatusCode != 101 {
		return nil, fmt.Errorf("%w: status %d", ErrUpgradeRefused, head.StatusCode)
	}
	want := computeAccept(key)
	if head.Headers.Get("Sec-WebSocket-Accept") != want {
		return nil, ErrBadAcceptHash
	}

	return newConn(conn, tok, RoleClient, rx.Leftover()), nil
}
