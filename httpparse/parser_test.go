package httpparse

import (
	"bytes"
	"testing"
)

func TestParseRequestContentLength(t *testing.T) {
	p := NewParser(KindRequest)
	raw := []byte("POST /submit HTTP/1.1\r\nContent-Length: 5\r\nHost: x\r\n\r\nhello")

	var body bytes.Buffer
	var complete bool
	n, err := p.Feed(raw, Callbacks{
		OnBody:            func(c []byte) { body.Write(c) },
		OnMessageComplete: func() { complete = true },
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d of %d", n, len(raw))
	}
	if !complete {
		t.Fatal("message not complete")
	}
	if p.Method != "POST" || p.Path != "/submit" {
		t.Fatalf("unexpected start line: %+v", p)
	}
	if body.String() != "hello" {
		t.Fatalf("unexpected body: %q", body.String())
	}
}

func TestParseRequestIncremental(t *testing.T) {
	p := NewParser(KindRequest)
	raw := []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")

	var complete bool
	for i := 0; i < len(raw); i++ {
		_, err := p.Feed(raw[i:i+1], Callbacks{
			OnMessageComplete: func() { complete = true },
		})
		if err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}
	if !complete {
		t.Fatal("incremental single-byte feed never completed")
	}
	if p.Headers.Get("Host") != "x" {
		t.Fatalf("header not captured: %+v", p.Headers)
	}
}

func TestParseChunkedBody(t *testing.T) {
	p := NewParser(KindRequest)
	raw := []byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nfoo\r\n3\r\nbar\r\n0\r\n\r\n")

	var body bytes.Buffer
	var complete bool
	_, err := p.Feed(raw, Callbacks{
		OnBody:            func(c []byte) { body.Write(c) },
		OnMessageComplete: func() { complete = true },
	})
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("chunked message not complete")
	}
	if body.String() != "foobar" {
		t.Fatalf("unexpected reassembled body: %q", body.String())
	}
	if p.BodyMode != BodyModeChunked {
		t.Fatalf("expected chunked body mode, got %v", p.BodyMode)
	}
}

func TestChunkedWinsOverContentLength(t *testing.T) {
	p := NewParser(KindRequest)
	raw := []byte("POST / HTTP/1.1\r\nContent-Length: 999\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nfoo\r\n0\r\n\r\n")

	var body bytes.Buffer
	_, err := p.Feed(raw, Callbacks{OnBody: func(c []byte) { body.Write(c) }})
	if err != nil {
		t.Fatal(err)
	}
	if p.BodyMode != BodyModeChunked {
		t.Fatalf("chunked should win over content-length, got %v", p.BodyMode)
	}
	if body.String() != "foo" {
		t.Fatalf("unexpected body: %q", body.String())
	}
}

func TestParseResponse(t *testing.T) {
	p := NewParser(KindResponse)
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")
	var body bytes.Buffer
	_, err := p.Feed(raw, Callbacks{OnBody: func(c []byte) { body.Write(c) }})
	if err != nil {
		t.Fatal(err)
	}
	if p.StatusCode != 200 || p.ReasonPhrase != "OK" {
		t.Fatalf("unexpected status line: %+v", p)
	}
	if body.String() != "hi" {
		t.Fatalf("unexpected body: %q", body.String())
	}
}

func TestSetCookieStaysSplit(t *testing.T) {
	p := NewParser(KindResponse)
	raw := []byte("HTTP/1.1 200 OK\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\n\r\n")
	_, err := p.Feed(raw, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	vs := p.Headers.Values("Set-Cookie")
	if len(vs) != 2 || vs[0] != "a=1" || vs[1] != "b=2" {
		t.Fatalf("Set-Cookie entries should stay split, got %v", vs)
	}
}
