// File: wsconn/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsconn

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/socket"
	"github.com/momentics/hioload-http/wsframe"
)

// Role distinguishes which side of the connection this process is.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

var (
	ErrMaskRequired  = errors.New("wsconn: server received unmasked frame")
	ErrMaskForbidden = errors.New("wsconn: client received masked frame")
	ErrClosed        = errors.New("wsconn: connection closed")
)

// Message is a fully reassembled WebSocket message: Binary/Text per the
// first frame's opcode, continuation frames concatenated.
type Message struct {
	Opcode  wsframe.Opcode
	Payload []byte
}

// Conn wraps a raw socket after a completed Upgrade handshake, framing
// outbound writes and reassembling inbound frames. Fragments of an
// in-progress message are held on an eapache/queue FIFO until the FIN frame
// arrives, so each intermediate frame costs one queued slice rather than a
// re-copy of everything received so far.
type Conn struct {
	conn *socket.Socket
	tok  cancel.Token
	role Role

	readBuf [8192]byte
	pending []byte

	continuation *queue.Queue
	contOpcode   wsframe.Opcode
	closed       bool
	status       api.SessionStatus
}

// newConn seeds pending with any bytes the handshake read past the end of
// the HTTP message, so a frame the peer sent immediately after upgrading is
// not lost.
func newConn(conn *socket.Socket, tok cancel.Token, role Role, leftover []byte) *Conn {
	c := &Conn{conn: conn, tok: tok, role: role, continuation: queue.New(), status: api.SessionActive}
	if len(leftover) > 0 {
		c.pending = append(c.pending, leftover...)
	}
	return c
}

// Role reports whether this Conn is the server or client side.
func (c *Conn) Role() Role { return c.role }

// Status reports the session's current lifecycle state.
func (c *Conn) Status() api.SessionStatus { return c.status }

// fill appends the next read's bytes to pending. Unlike the HTTP side, a
// frame header can declare more payload than one read returns, so fill must
// grow pending rather than replace it.
func (c *Conn) fill() error {
	n, err := c.conn.Recv(c.readBuf[:], c.tok)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: peer closed", ErrClosed)
	}
	c.pending = append(c.pending, c.readBuf[:n]...)
	return nil
}

func (c *Conn) readFrame() (wsframe.Header, []byte, error) {
	for {
		h, n, ok, err := wsframe.Unpack(c.pending)
		if err != nil {
			return wsframe.Header{}, nil, err
		}
		if ok && len(c.pending)-n >= int(h.PayloadLen) {
			payload := append([]byte(nil), c.pending[n:n+int(h.PayloadLen)]...)
			c.pending = c.pending[n+int(h.PayloadLen):]

			if c.role == RoleServer && !h.Masked {
				return wsframe.Header{}, nil, ErrMaskRequired
			}
			if c.role == RoleClient && h.Masked {
				return wsframe.Header{}, nil, ErrMaskForbidden
			}
			if h.Masked {
				wsframe.MaskPayload(payload, h.MaskKey)
			}
			return h, payload, nil
		}
		if err := c.fill(); err != nil {
			return wsframe.Header{}, nil, err
		}
	}
}

// ReceiveMessage returns the next fully reassembled data message (text or
// binary), transparently handling ping/pong/close control frames: pings are
// answered with a pong and skipped, a close is answered with a close and
// surfaces ErrClosed.
func (c *Conn) ReceiveMessage() (Message, error) {
	for {
		h, payload, err := c.readFrame()
		if err != nil {
			return Message{}, err
		}

		switch h.Opcode {
		case wsframe.OpPing:
			if err := c.sendControl(wsframe.OpPong, payload); err != nil {
				return Message{}, err
			}
			continue
		case wsframe.OpPong:
			continue
		case wsframe.OpClose:
			c.status = api.SessionClosing
			c.sendControl(wsframe.OpClose, payload)
			c.closed = true
			c.status = api.SessionClosed
			c.conn.CloseSend()
			return Message{}, ErrClosed
		case wsframe.OpContinuation:
			if c.continuation.Length() == 0 {
				return Message{}, fmt.Errorf("wsframe: unexpected continuation frame")
			}
			c.continuation.Add(payload)
		default:
			if c.continuation.Length() != 0 {
				return Message{}, fmt.Errorf("wsframe: new message started before previous FIN")
			}
			c.contOpcode = h.Opcode
			c.continuation.Add(payload)
		}

		if h.Fin {
			var out []byte
			for c.continuation.Length() > 0 {
				out = append(out, c.continuation.Remove().([]byte)...)
			}
			return Message{Opcode: c.contOpcode, Payload: out}, nil
		}
	}
}

// SendMessage frames payload as a single final frame with the given opcode
// (Text or Binary). Client-role connections mask with a fresh random key
// per frame; server-role connections never mask.
func (c *Conn) SendMessage(opcode wsframe.Opcode, payload []byte) error {
	return c.sendFrame(wsframe.Header{Fin: true, Opcode: opcode}, payload)
}

// maxFrameSize caps a single outbound data frame; larger messages are
// fragmented into continuation frames.
const maxFrameSize = 64 * 1024

// SendFragmented streams payload as a fragmented message: the first frame
// carries opcode, subsequent frames are continuations, and only the last
// sets FIN. Messages within maxFrameSize go out as one final frame.
func (c *Conn) SendFragmented(opcode wsframe.Opcode, payload []byte) error {
	first := true
	for {
		chunk := payload
		if len(chunk) > maxFrameSize {
			chunk = chunk[:maxFrameSize]
		}
		payload = payload[len(chunk):]
		fin := len(payload) == 0

		op := opcode
		if !first {
			op = wsframe.OpContinuation
		}
		if err := c.sendFrame(wsframe.Header{Fin: fin, Opcode: op}, chunk); err != nil {
			return err
		}
		first = false
		if fin {
			return nil
		}
	}
}

func (c *Conn) sendFrame(h wsframe.Header, payload []byte) error {
	h.PayloadLen = uint64(len(payload))
	body := append([]byte(nil), payload...)
	if c.role == RoleClient {
		key, err := wsframe.NewMaskKey()
		if err != nil {
			return err
		}
		h.Masked = true
		h.MaskKey = key
		wsframe.MaskPayload(body, key)
	}
	buf, err := wsframe.Pack(h, nil)
	if err != nil {
		return err
	}
	buf = append(buf, body...)
	return c.writeAll(buf)
}

func (c *Conn) sendControl(opcode wsframe.Opcode, payload []byte) error {
	return c.sendFrame(wsframe.Header{Fin: true, Opcode: opcode}, payload)
}

func (c *Conn) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.conn.Send(buf, c.tok)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Close sends a close frame (if not already closed) and disconnects.
func (c *Conn) Close() error {
	if !c.closed {
		c.status = api.SessionClosing
		c.sendControl(wsframe.OpClose, nil)
	}
	c.status = api.SessionClosed
	return c.conn.Disconnect()
}
