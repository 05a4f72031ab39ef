package httpmsg

import (
	"testing"

	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/httpparse"
	"github.com/momentics/hioload-http/socket"
)

func newPipe(t *testing.T) (*socket.Socket, *socket.Socket, cancel.Token) {
	t.Helper()
	ep, err := socket.EndpointFromIP("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	srv := socket.New()
	if err := srv.Bind(ep); err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Disconnect() })

	src := cancel.NewSource()
	tok := src.Token()

	realEp, err := socket.ParseEndpoint(srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	acceptDone := make(chan error, 1)
	accepted := socket.New()
	go func() { acceptDone <- srv.Accept(accepted, tok) }()

	client := socket.New()
	if err := client.Connect(realEp, tok); err != nil {
		t.Fatal(err)
	}
	if err := <-acceptDone; err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(); accepted.Disconnect() })
	return client, accepted, tok
}

// TestEchoContentLength: a content-length request is echoed back verbatim
// by a server using rx/tx messages.
func TestEchoContentLength(t *testing.T) {
	client, server, tok := newPipe(t)

	serverDone := make(chan error, 1)
	go func() {
		rx := NewRxMessage(server, tok, httpparse.KindRequest)
		head, err := rx.ReceiveHeader()
		if err != nil {
			serverDone <- err
			return
		}
		body, err := rx.Receive()
		if err != nil {
			serverDone <- err
			return
		}

		tx := NewTxMessage(server, tok)
		h := tx.MakeResponseHeader(200, "OK")
		h.HasLength = true
		h.ContentLength = head.ContentLength
		if err := tx.Send(h); err != nil {
			serverDone <- err
			return
		}
		if err := tx.SendBody(body); err != nil {
			serverDone <- err
			return
		}
		serverDone <- tx.Close()
	}()

	tx := NewTxMessage(client, tok)
	h := tx.MakeRequestHeader("POST", "/")
	h.HasLength = true
	h.ContentLength = 5
	if err := tx.Send(h); err != nil {
		t.Fatal(err)
	}
	if err := tx.SendBody([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Close(); err != nil {
		t.Fatal(err)
	}

	rx := NewRxMessage(client, tok, httpparse.KindResponse)
	respHead, err := rx.ReceiveResponseHeader()
	if err != nil {
		t.Fatal(err)
	}
	if respHead.StatusCode != 200 {
		t.Fatalf("unexpected status: %+v", respHead)
	}
	body, err := rx.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected echoed body: %q", body)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server side failed: %v", err)
	}
}

// TestEchoChunked: a chunked request is echoed back chunked, and the
// client reassembles the original bytes.
func TestEchoChunked(t *testing.T) {
	client, server, tok := newPipe(t)

	serverDone := make(chan error, 1)
	go func() {
		rx := NewRxMessage(server, tok, httpparse.KindRequest)
		if _, err := rx.ReceiveHeader(); err != nil {
			serverDone <- err
			return
		}
		var all []byte
		for {
			chunk, err := rx.Receive()
			if err != nil {
				serverDone <- err
				return
			}
			if len(chunk) == 0 {
				break
			}
			all = append(all, chunk...)
		}

		tx := NewTxMessage(server, tok)
		h := tx.MakeResponseHeader(200, "OK")
		h.Chunked = true
		if err := tx.Send(h); err != nil {
			serverDone <- err
			return
		}
		if err := tx.SendBody(all); err != nil {
			serverDone <- err
			return
		}
		serverDone <- tx.Close()
	}()

	tx := NewTxMessage(client, tok)
	h := tx.MakeRequestHeader("POST", "/")
	h.Chunked = true
	if err := tx.Send(h); err != nil {
		t.Fatal(err)
	}
	if err := tx.SendBody([]byte("foo")); err != nil {
		t.Fatal(err)
	}
	if err := tx.SendBody([]byte("bar")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Close(); err != nil {
		t.Fatal(err)
	}

	rx := NewRxMessage(client, tok, httpparse.KindResponse)
	if _, err := rx.ReceiveResponseHeader(); err != nil {
		t.Fatal(err)
	}
	var all []byte
	for {
		chunk, err := rx.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) == 0 {
			break
		}
		all = append(all, chunk...)
	}
	if string(all) != "foobar" {
		t.Fatalf("unexpected reassembled body: %q", all)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server side failed: %v", err)
	}
}
