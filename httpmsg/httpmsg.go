// File: httpmsg/httpmsg.go
// Package httpmsg implements scoped per-message I/O handles over a
// connection: an RxMessage reads one request or response (header, then body
// slices until EOF), a TxMessage writes one (header, then body bytes, with
// content-length accounting or chunked framing). Each handle owns its half
// of the connection for its lifetime and releases it on Close.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpmsg

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/httpparse"
	"github.com/momentics/hioload-http/socket"
)

// syncPool is a minimal sync.Pool-backed api.BufferPool. It ignores the
// NUMA-preferred hint: receive handles run one goroutine per connection
// with no cross-node placement policy.
type syncPool struct {
	size int
	sp   sync.Pool
}

func newSyncPool(size int) *syncPool {
	p := &syncPool{size: size}
	p.sp.New = func() any { return make([]byte, size) }
	return p
}

func (p *syncPool) Get(size int, _ int) api.Buffer {
	buf, _ := p.sp.Get().([]byte)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	return api.Buffer{Data: buf[:size], NUMA: -1, Pool: p}
}

func (p *syncPool) Put(b api.Buffer) {
	p.sp.Put(b.Data[:cap(b.Data)])
}

func (p *syncPool) Stats() api.BufferPoolStats { return api.BufferPoolStats{} }

var defaultRxPool = newSyncPool(4096)

var _ api.BufferPool = (*syncPool)(nil)

// ErrProtocol is returned when the peer stream ends before a complete
// message is parsed, or sends structurally invalid framing.
var ErrProtocol = errors.New("httpmsg: protocol error")

// ErrOverflow is returned when a tx_message sender writes more bytes than
// the declared Content-Length.
var ErrOverflow = errors.New("httpmsg: content-length overflow")

// ErrUnderflow is returned when scope exit finds fewer bytes were sent than
// the declared Content-Length.
var ErrUnderflow = errors.New("httpmsg: content-length underflow")

// RequestHead carries the parsed request start-line plus headers, returned
// once by RxMessage.ReceiveHeader.
type RequestHead struct {
	Method        string
	Path          string
	RawTarget     string
	Headers       *httpparse.Headers
	ContentLength int64
	Chunked       bool
}

// ResponseHead carries the parsed response start-line plus headers.
type ResponseHead struct {
	StatusCode    int
	Reason        string
	Headers       *httpparse.Headers
	ContentLength int64
	Chunked       bool
}

// RxMessage reads one HTTP message (request or response) off a connection.
// It owns the read half for its scope; call Close when done.
type RxMessage struct {
	conn   *socket.Socket
	tok    cancel.Token
	parser *httpparse.Parser

	pool    api.BufferPool
	buf     api.Buffer
	pending []byte // unconsumed bytes from the last Recv, aliasing buf.Data
	stash   []byte // body bytes the parser emitted while headers were being read

	headerDone bool
	bodyDone   bool
}

// NewRxMessage constructs an RxMessage for the given kind over conn, reading
// into buffers drawn from the package's default sync.Pool-backed
// api.BufferPool.
func NewRxMessage(conn *socket.Socket, tok cancel.Token, kind httpparse.Kind) *RxMessage {
	return NewRxMessageWithPool(conn, tok, kind, defaultRxPool)
}

// NewRxMessageWithPool is NewRxMessage with an explicit buffer source, for
// callers that want NUMA-aware or otherwise custom allocation.
func NewRxMessageWithPool(conn *socket.Socket, tok cancel.Token, kind httpparse.Kind, pool api.BufferPool) *RxMessage {
	return &RxMessage{conn: conn, tok: tok, parser: httpparse.NewParser(kind), pool: pool, buf: pool.Get(4096, -1)}
}

// fill reads more bytes from the connection into pending when it is empty.
func (r *RxMessage) fill() error {
	if len(r.pending) > 0 {
		return nil
	}
	n, err := r.conn.Recv(r.buf.Data, r.tok)
	if err != nil {
		if err == socket.ErrCancelled {
			return err
		}
		return fmt.Errorf("httpmsg: recv: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: connection closed before message complete", ErrProtocol)
	}
	r.pending = r.buf.Data[:n]
	return nil
}

// headerCallbacks drives the parser to (and possibly past) the end of the
// headers. One Recv can deliver headers and body together, and Feed keeps
// parsing through everything it was given, so body bytes seen here are
// stashed for the first Receive call.
func (r *RxMessage) headerCallbacks(done *bool) httpparse.Callbacks {
	return httpparse.Callbacks{
		OnHeadersComplete: func(p *httpparse.Parser) { *done = true },
		OnBody:            func(c []byte) { r.stash = append(r.stash, c...) },
		OnMessageComplete: func() { r.bodyDone = true },
	}
}

// ReceiveHeader drives the parser until headers are complete, returning the
// request head. Call this only for a request-kind RxMessage.
func (r *RxMessage) ReceiveHeader() (RequestHead, error) {
	var head RequestHead
	done := false
	for !done {
		if err := r.fill(); err != nil {
			return head, err
		}
		n, err := r.parser.Feed(r.pending, r.headerCallbacks(&done))
		if err != nil {
			return head, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		r.pending = r.pending[n:]
	}
	r.headerDone = true
	head = RequestHead{
		Method:        r.parser.Method,
		Path:          r.parser.Path,
		RawTarget:     r.parser.RawTarget,
		Headers:       r.parser.Headers,
		ContentLength: r.parser.ContentLength,
		Chunked:       r.parser.BodyMode == httpparse.BodyModeChunked,
	}
	if r.parser.BodyMode == httpparse.BodyModeNone {
		r.bodyDone = true
	}
	return head, nil
}

// ReceiveResponseHeader is ReceiveHeader's response-kind counterpart.
func (r *RxMessage) ReceiveResponseHeader() (ResponseHead, error) {
	var head ResponseHead
	done := false
	for !done {
		if err := r.fill(); err != nil {
			return head, err
		}
		n, err := r.parser.Feed(r.pending, r.headerCallbacks(&done))
		if err != nil {
			return head, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		r.pending = r.pending[n:]
	}
	r.headerDone = true
	head = ResponseHead{
		StatusCode:    r.parser.StatusCode,
		Reason:        r.parser.ReasonPhrase,
		Headers:       r.parser.Headers,
		ContentLength: r.parser.ContentLength,
		Chunked:       r.parser.BodyMode == httpparse.BodyModeChunked,
	}
	if r.parser.BodyMode == httpparse.BodyModeNone {
		r.bodyDone = true
	}
	return head, nil
}

// Receive returns the next non-empty body slice, or an empty slice at EOF.
// The returned slice is a copy owned by the caller; it does not alias the
// RxMessage's internal buffer.
func (r *RxMessage) Receive() ([]byte, error) {
	if len(r.stash) > 0 {
		out := r.stash
		r.stash = nil
		return out, nil
	}
	if r.bodyDone {
		return nil, nil
	}
	var out []byte
	for len(out) == 0 && !r.bodyDone {
		if err := r.fill(); err != nil {
			return nil, err
		}
		n, err := r.parser.Feed(r.pending, httpparse.Callbacks{
			OnBody:            func(c []byte) { out = append(out, c...) },
			OnMessageComplete: func() { r.bodyDone = true },
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		r.pending = r.pending[n:]
	}
	return out, nil
}

// Leftover returns any bytes read past the end of the current message.
// Protocol-upgrade paths hand these to the next framing layer so a frame
// the peer sent immediately after its HTTP message is not dropped.
func (r *RxMessage) Leftover() []byte { return r.pending }

// Close releases the read half (best-effort) and returns the receive buffer
// to its pool.
func (r *RxMessage) Close() error {
	r.buf.Release()
	return r.conn.CloseRecv()
}

// Header is a mutable start-line + header set built by MakeHeader and
// adjusted by the caller before Send.
type Header struct {
	IsRequest bool

	Method string
	Path   string

	StatusCode int
	Reason     string

	Fields        *httpparse.Headers
	ContentLength int64
	HasLength     bool
	Chunked       bool
}

// TxMessage writes one HTTP message, then its body, to a connection. It owns
// the write half for its scope.
type TxMessage struct {
	conn *socket.Socket
	tok  cancel.Token

	header        Header
	headerSent    bool
	bytesSent     int64
	chunkedActive bool
}

// NewTxMessage constructs a TxMessage over conn.
func NewTxMessage(conn *socket.Socket, tok cancel.Token) *TxMessage {
	return &TxMessage{conn: conn, tok: tok}
}

// MakeRequestHeader builds a mutable request header for method+path.
func (t *TxMessage) MakeRequestHeader(method, path string) *Header {
	t.header = Header{IsRequest: true, Method: method, Path: path, Fields: httpparse.NewHeaders()}
	return &t.header
}

// MakeResponseHeader builds a mutable response header for a status code.
// An empty reason falls back to the registered phrase for known codes.
func (t *TxMessage) MakeResponseHeader(code int, reason string) *Header {
	if reason == "" {
		reason = StatusText(code)
	}
	t.header = Header{IsRequest: false, StatusCode: code, Reason: reason, Fields: httpparse.NewHeaders()}
	return &t.header
}

// StatusText returns the registered reason phrase for common status codes,
// or "Unknown" for everything else.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 411:
		return "Length Required"
	case 413:
		return "Payload Too Large"
	case 426:
		return "Upgrade Required"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

// Send serializes and writes the start line plus headers. Exactly one of
// h.HasLength or h.Chunked should be set; if neither is set, Send defaults
// to chunked transfer, except for response statuses that cannot carry a
// body (1xx, 204, 304), which get no framing header at all.
func (t *TxMessage) Send(h *Header) error {
	if t.headerSent {
		return fmt.Errorf("httpmsg: header already sent")
	}
	var buf []byte
	if h.IsRequest {
		buf = append(buf, h.Method...)
		buf = append(buf, ' ')
		buf = append(buf, h.Path...)
		buf = append(buf, " HTTP/1.1\r\n"...)
	} else {
		reason := h.Reason
		buf = append(buf, "HTTP/1.1 "...)
		buf = append(buf, strconv.Itoa(h.StatusCode)...)
		buf = append(buf, ' ')
		buf = append(buf, reason...)
		buf = append(buf, "\r\n"...)
	}

	if !h.HasLength && !h.Chunked {
		if !h.IsRequest && (h.StatusCode < 200 || h.StatusCode == 204 || h.StatusCode == 304) {
			// bodiless status: no framing header
		} else {
			h.Chunked = true
		}
	}
	if h.Chunked {
		t.chunkedActive = true
	}

	h.Fields.Each(func(name, value string) {
		buf = append(buf, name...)
		buf = append(buf, ": "...)
		buf = append(buf, value...)
		buf = append(buf, "\r\n"...)
	})
	if h.HasLength {
		buf = append(buf, "Content-Length: "...)
		buf = append(buf, strconv.FormatInt(h.ContentLength, 10)...)
		buf = append(buf, "\r\n"...)
	} else if h.Chunked {
		buf = append(buf, "Transfer-Encoding: chunked\r\n"...)
	}
	buf = append(buf, "\r\n"...)

	if err := t.writeAll(buf); err != nil {
		return err
	}
	t.header = *h
	t.headerSent = true
	return nil
}

func (t *TxMessage) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := t.conn.Send(buf, t.tok)
		if err != nil {
			return fmt.Errorf("httpmsg: send: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// SendBody writes body bytes, per the active framing: direct for
// content-length mode (tracking remaining, erroring on overflow), or
// chunked-wrapped for chunked mode.
func (t *TxMessage) SendBody(p []byte) error {
	if !t.headerSent {
		return fmt.Errorf("httpmsg: header not sent")
	}
	if t.header.HasLength {
		if t.bytesSent+int64(len(p)) > t.header.ContentLength {
			return ErrOverflow
		}
		if err := t.writeAll(p); err != nil {
			return err
		}
		t.bytesSent += int64(len(p))
		return nil
	}

	if len(p) == 0 {
		return nil
	}
	frame := append([]byte(strconv.FormatInt(int64(len(p)), 16)), "\r\n"...)
	frame = append(frame, p...)
	frame = append(frame, "\r\n"...)
	if err := t.writeAll(frame); err != nil {
		return err
	}
	t.bytesSent += int64(len(p))
	return nil
}

// Close finalizes the message: for chunked mode it writes the terminating
// zero chunk; for content-length mode it verifies every declared byte was
// sent. Either way, it shuts down the write half.
func (t *TxMessage) Close() error {
	if t.headerSent {
		if t.chunkedActive {
			if err := t.writeAll([]byte("0\r\n\r\n")); err != nil {
				return err
			}
		} else if t.header.HasLength && t.bytesSent != t.header.ContentLength {
			t.conn.CloseSend()
			return fmt.Errorf("%w: sent %d of %d declared bytes", ErrUnderflow, t.bytesSent, t.header.ContentLength)
		}
	}
	return t.conn.CloseSend()
}
