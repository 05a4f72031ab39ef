// File: httpparse/parser.go
// Package httpparse implements an incremental, byte-fed HTTP/1.1 message
// parser. Feed never blocks and never copies body bytes; callbacks fire as
// each parse event completes, with body slices aliasing the input buffer.
// The events, named after joyent/http-parser's callbacks, are message
// begin, url/status, headers complete, body, chunk header and message
// complete. Individual header fields and values are not reported as events
// (they are collected into Headers), and the end of each chunk is not
// reported separately.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/hioload-http/url"
)

// State names the parser's current position in the message grammar.
type State int

const (
	StateIdle State = iota
	StateMessageBegin
	StateURLOrStatus
	StateHeaderField
	StateHeaderValue
	StateHeadersComplete
	StateBody
	StateChunkHeader
	StateChunkBody
	StateChunkComplete
	StateMessageComplete
	StateError
)

// Kind distinguishes request parsing from response parsing.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

// BodyMode records which framing the headers declared. Chunked wins when
// both Content-Length and Transfer-Encoding: chunked appear.
type BodyMode int

const (
	BodyModeNone BodyMode = iota
	BodyModeContentLength
	BodyModeChunked
)

// Parser is an incremental HTTP/1.1 message parser. Feed successive byte
// slices via Feed; it never blocks and never copies body bytes — OnBody
// receives slices aliasing Feed's input.
type Parser struct {
	kind  Kind
	state State

	// accumulator for the current line (start-line or a header field/value)
	// spanning Feed calls.
	lineBuf []byte

	Method      string
	RawTarget   string
	Path        string
	StatusCode  int
	ReasonPhrase string
	ProtoMajor  int
	ProtoMinor  int

	Headers *Headers

	BodyMode      BodyMode
	ContentLength int64
	bodyRemaining int64

	chunkRemaining int64
	chunkJustEnded bool

	pendingFieldName string

	err error
}

// NewParser returns a parser for request or response messages.
func NewParser(kind Kind) *Parser {
	return &Parser{kind: kind, state: StateIdle, Headers: NewHeaders()}
}

// Reset prepares the parser to parse a new message of the same kind, with
// fresh state and an empty Headers.
func (p *Parser) Reset() {
	*p = Parser{kind: p.kind, state: StateIdle, Headers: NewHeaders()}
}

// State reports the parser's current state.
func (p *Parser) State() State { return p.state }

// IsComplete reports whether on_message_complete has fired.
func (p *Parser) IsComplete() bool { return p.state == StateMessageComplete }

// HasBody reports whether headers are complete and a body is expected.
func (p *Parser) HasBody() bool {
	return p.state >= StateHeadersComplete && p.BodyMode != BodyModeNone
}

// Err returns the sticky parse error, if the parser has entered StateError.
func (p *Parser) Err() error { return p.err }

// Feed advances the state machine with more bytes, invoking cb for each
// event that completes. consumed is len(data) unless the message completes
// or a fatal parse error occurs first. On completion, consumed marks the
// first byte past the message, and later calls consume nothing until Reset.
// On error the state becomes StateError and consumed counts the bytes read
// up to the point of failure.
func (p *Parser) Feed(data []byte, cb Callbacks) (consumed int, err error) {
	if p.state == StateError {
		return 0, p.err
	}
	if p.state == StateIdle {
		p.state = StateMessageBegin
		if cb.OnMessageBegin != nil {
			cb.OnMessageBegin()
		}
	}

	i := 0
	for i < len(data) {
		switch {
		case p.state == StateMessageBegin || p.state == StateURLOrStatus:
			n, done, perr := p.consumeStartLine(data[i:])
			i += n
			if perr != nil {
				return p.fail(i, perr)
			}
			if !done {
				return i, nil
			}
			p.state = StateHeaderField
			if cb.OnURLOrStatus != nil {
				cb.OnURLOrStatus(p)
			}

		case p.state == StateHeaderField || p.state == StateHeaderValue:
			n, headersDone, perr := p.consumeHeaderLine(data[i:], cb)
			i += n
			if perr != nil {
				return p.fail(i, perr)
			}
			if headersDone {
				if err := p.finishHeaders(); err != nil {
					return p.fail(i, err)
				}
				p.state = StateHeadersComplete
				if cb.OnHeadersComplete != nil {
					cb.OnHeadersComplete(p)
				}
				if p.BodyMode == BodyModeChunked {
					p.state = StateChunkHeader
				} else if p.BodyMode == BodyModeContentLength && p.bodyRemaining > 0 {
					p.state = StateBody
				} else {
					p.state = StateMessageComplete
					if cb.OnMessageComplete != nil {
						cb.OnMessageComplete()
					}
					return i, nil
				}
			}
			if i >= len(data) {
				return i, nil
			}

		case p.state == StateBody:
			n := len(data) - i
			if int64(n) > p.bodyRemaining {
				n = int(p.bodyRemaining)
			}
			if n > 0 {
				chunk := data[i : i+n]
				i += n
				p.bodyRemaining -= int64(n)
				if cb.OnBody != nil {
					cb.OnBody(chunk)
				}
			}
			if p.bodyRemaining == 0 {
				p.state = StateMessageComplete
				if cb.OnMessageComplete != nil {
					cb.OnMessageComplete()
				}
				return i, nil
			}
			return i, nil

		case p.state == StateChunkHeader:
			n, done, perr := p.consumeChunkHeader(data[i:])
			i += n
			if perr != nil {
				return p.fail(i, perr)
			}
			if !done {
				return i, nil
			}
			if cb.OnChunkHeader != nil {
				cb.OnChunkHeader(p.chunkRemaining)
			}
			if p.chunkRemaining == 0 {
				p.state = StateChunkComplete
			} else {
				p.state = StateChunkBody
			}

		case p.state == StateChunkBody:
			n := len(data) - i
			if int64(n) > p.chunkRemaining {
				n = int(p.chunkRemaining)
			}
			if n > 0 {
				chunk := data[i : i+n]
				i += n
				p.chunkRemaining -= int64(n)
				if cb.OnBody != nil {
					cb.OnBody(chunk)
				}
			}
			if p.chunkRemaining == 0 {
				// consume trailing CRLF after chunk data
				n2, done, perr := p.consumeCRLF(data[i:])
				i += n2
				if perr != nil {
					return p.fail(i, perr)
				}
				if !done {
					return i, nil
				}
				p.state = StateChunkHeader
			} else {
				return i, nil
			}

		case p.state == StateChunkComplete:
			// consume the zero-chunk's trailing CRLF; trailers unsupported
			n, done, perr := p.consumeCRLF(data[i:])
			i += n
			if perr != nil {
				return p.fail(i, perr)
			}
			if !done {
				return i, nil
			}
			p.state = StateMessageComplete
			if cb.OnMessageComplete != nil {
				cb.OnMessageComplete()
			}
			return i, nil

		default:
			return i, nil
		}
	}
	return i, nil
}

func (p *Parser) fail(consumed int, err error) (int, error) {
	p.state = StateError
	p.err = err
	return consumed, err
}

// Callbacks are invoked synchronously from within Feed as each parse event
// completes. All are optional.
type Callbacks struct {
	OnMessageBegin    func()
	OnURLOrStatus     func(p *Parser)
	OnHeadersComplete func(p *Parser)
	OnBody            func(chunk []byte)
	OnChunkHeader     func(size int64)
	OnMessageComplete func()
}

func (p *Parser) consumeCRLF(data []byte) (n int, done bool, err error) {
	for n < len(data) {
		p.lineBuf = append(p.lineBuf, data[n])
		n++
		if strings.HasSuffix(string(p.lineBuf), "\r\n") {
			p.lineBuf = p.lineBuf[:0]
			return n, true, nil
		}
		if len(p.lineBuf) > 2 {
			return n, false, fmt.Errorf("httpparse: expected CRLF after chunk body")
		}
	}
	return n, false, nil
}

func (p *Parser) consumeStartLine(data []byte) (n int, done bool, err error) {
	for n < len(data) {
		b := data[n]
		p.lineBuf = append(p.lineBuf, b)
		n++
		if b == '\n' && len(p.lineBuf) >= 2 && p.lineBuf[len(p.lineBuf)-2] == '\r' {
			line := string(p.lineBuf[:len(p.lineBuf)-2])
			p.lineBuf = p.lineBuf[:0]
			if err := p.parseStartLine(line); err != nil {
				return n, false, err
			}
			return n, true, nil
		}
		if len(p.lineBuf) > 8192 {
			return n, false, fmt.Errorf("httpparse: start line too long")
		}
	}
	return n, false, nil
}

func (p *Parser) parseStartLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("httpparse: malformed start line %q", line)
	}
	if p.kind == KindRequest {
		p.Method = parts[0]
		p.RawTarget = parts[1]
		// The query is split off the raw target before decoding, so an
		// escaped '?' inside a path segment stays part of the path.
		path := p.RawTarget
		if idx := strings.IndexByte(path, '?'); idx >= 0 {
			path = path[:idx]
		}
		p.Path = url.Unescape(path)
		return p.parseVersion(parts[2])
	}
	if err := p.parseVersion(parts[0]); err != nil {
		return err
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("httpparse: invalid status code %q: %w", parts[1], err)
	}
	p.StatusCode = code
	p.ReasonPhrase = parts[2]
	return nil
}

func (p *Parser) parseVersion(v string) error {
	if !strings.HasPrefix(v, "HTTP/") {
		return fmt.Errorf("httpparse: invalid version %q", v)
	}
	v = v[len("HTTP/"):]
	dot := strings.IndexByte(v, '.')
	if dot < 0 {
		return fmt.Errorf("httpparse: invalid version %q", v)
	}
	major, err1 := strconv.Atoi(v[:dot])
	minor, err2 := strconv.Atoi(v[dot+1:])
	if err1 != nil || err2 != nil {
		return fmt.Errorf("httpparse: invalid version %q", v)
	}
	p.ProtoMajor, p.ProtoMinor = major, minor
	return nil
}

func (p *Parser) consumeHeaderLine(data []byte, cb Callbacks) (n int, headersDone bool, err error) {
	for n < len(data) {
		b := data[n]
		p.lineBuf = append(p.lineBuf, b)
		n++
		if b == '\n' && len(p.lineBuf) >= 2 && p.lineBuf[len(p.lineBuf)-2] == '\r' {
			line := p.lineBuf[:len(p.lineBuf)-2]
			p.lineBuf = p.lineBuf[:0]
			if len(line) == 0 {
				return n, true, nil
			}
			name, value, err := splitHeaderLine(string(line))
			if err != nil {
				return n, false, err
			}
			p.Headers.Add(name, value)
			return n, false, nil
		}
		if len(p.lineBuf) > 16384 {
			return n, false, fmt.Errorf("httpparse: header line too long")
		}
	}
	return n, false, nil
}

func splitHeaderLine(line string) (name, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("httpparse: malformed header line %q", line)
	}
	name = line[:idx]
	value = strings.TrimSpace(line[idx+1:])
	return name, value, nil
}

func (p *Parser) finishHeaders() error {
	if p.Headers.Has("Transfer-Encoding") && strings.EqualFold(strings.TrimSpace(p.Headers.Get("Transfer-Encoding")), "chunked") {
		p.BodyMode = BodyModeChunked
		return nil
	}
	if p.Headers.Has("Content-Length") {
		n, err := strconv.ParseInt(strings.TrimSpace(p.Headers.Get("Content-Length")), 10, 64)
		if err != nil {
			return fmt.Errorf("httpparse: invalid Content-Length: %w", err)
		}
		p.BodyMode = BodyModeContentLength
		p.ContentLength = n
		p.bodyRemaining = n
		return nil
	}
	p.BodyMode = BodyModeNone
	return nil
}

func (p *Parser) consumeChunkHeader(data []byte) (n int, done bool, err error) {
	for n < len(data) {
		b := data[n]
		p.lineBuf = append(p.lineBuf, b)
		n++
		if b == '\n' && len(p.lineBuf) >= 2 && p.lineBuf[len(p.lineBuf)-2] == '\r' {
			line := string(p.lineBuf[:len(p.lineBuf)-2])
			p.lineBuf = p.lineBuf[:0]
			// chunk extensions (after ';') are ignored
			if idx := strings.IndexByte(line, ';'); idx >= 0 {
				line = line[:idx]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
			if err != nil {
				return n, false, fmt.Errorf("httpparse: invalid chunk size %q: %w", line, err)
			}
			p.chunkRemaining = size
			return n, true, nil
		}
		if len(p.lineBuf) > 64 {
			return n, false, fmt.Errorf("httpparse: chunk size line too long")
		}
	}
	return n, false, nil
}
