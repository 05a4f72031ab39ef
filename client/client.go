// File: client/client.go
// Package client implements the client-side connect+request helper: dial a
// url.URL, optionally through TLS, and run an HTTP request/response cycle
// over httpmsg, or perform a WebSocket upgrade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package client

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/httpmsg"
	"github.com/momentics/hioload-http/httpparse"
	"github.com/momentics/hioload-http/socket"
	"github.com/momentics/hioload-http/tlssocket"
	"github.com/momentics/hioload-http/url"
	"github.com/momentics/hioload-http/wsconn"
)

// Client dials one endpoint (scheme + host + port from a url.URL) and
// issues requests or WebSocket upgrades over it.
type Client struct {
	raw *socket.Socket
	tls *tlssocket.Socket
	tok cancel.Token
}

// Connect dials u, performing a TLS handshake first when u.UsesTLS().
// Hostnames resolve through the system resolver; IP literals are used
// as-is.
func Connect(u url.URL, tok cancel.Token) (*Client, error) {
	ep, err := socket.EndpointFromIP(u.Host, u.EffectivePort())
	if err != nil {
		addr, rerr := net.ResolveIPAddr("ip", u.Host)
		if rerr != nil {
			return nil, fmt.Errorf("client: resolve %q: %w", u.Host, rerr)
		}
		ep, err = socket.EndpointFromIP(addr.IP.String(), u.EffectivePort())
		if err != nil {
			return nil, fmt.Errorf("client: resolve %q: %w", u.Host, err)
		}
	}

	raw := socket.New()
	if err := raw.Connect(ep, tok); err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	c := &Client{raw: raw, tok: tok}
	if u.UsesTLS() {
		c.tls = tlssocket.New(raw, tlssocket.VerifyRequired, u.Host, nil)
		if err := c.tls.Encrypt(tok, false); err != nil {
			raw.Disconnect()
			return nil, fmt.Errorf("client: tls handshake: %w", err)
		}
	}
	return c, nil
}

// conn returns the socket.Socket currently in effect (TLS-wrapped if set up).
func (c *Client) conn() *socket.Socket {
	if c.tls != nil {
		return c.tls.Raw()
	}
	return c.raw
}

// Do sends a request and returns the parsed response head plus fully
// buffered body. Large/streaming responses should drive httpmsg.RxMessage
// directly instead of using this convenience wrapper.
func (c *Client) Do(method, path string, headers map[string]string, body []byte) (httpmsg.ResponseHead, []byte, error) {
	tx := httpmsg.NewTxMessage(c.conn(), c.tok)
	h := tx.MakeRequestHeader(method, path)
	for k, v := range headers {
		h.Fields.Add(k, v)
	}
	h.HasLength = true
	h.ContentLength = int64(len(body))
	if err := tx.Send(h); err != nil {
		return httpmsg.ResponseHead{}, nil, err
	}
	if len(body) > 0 {
		if err := tx.SendBody(body); err != nil {
			return httpmsg.ResponseHead{}, nil, err
		}
	}
	if err := tx.Close(); err != nil {
		return httpmsg.ResponseHead{}, nil, err
	}

	rx := httpmsg.NewRxMessage(c.conn(), c.tok, httpparse.KindResponse)
	head, err := rx.ReceiveResponseHeader()
	if err != nil {
		return httpmsg.ResponseHead{}, nil, err
	}
	var respBody []byte
	for {
		chunk, err := rx.Receive()
		if err != nil {
			return head, nil, err
		}
		if len(chunk) == 0 {
			break
		}
		respBody = append(respBody, chunk...)
	}
	return head, respBody, nil
}

// DialWebSocket performs the client side of a WebSocket upgrade over the
// already-connected transport.
func (c *Client) DialWebSocket(path string, extraHeaders map[string]string) (*wsconn.Conn, error) {
	return wsconn.DialUpgrade(c.conn(), c.tok, path, extraHeaders)
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.raw.Disconnect()
}
