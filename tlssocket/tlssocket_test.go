package tlssocket

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/momentics/hioload-http/cancel"
	"github.com/momentics/hioload-http/socket"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

// TestTLSHandshakeAndEcho: a self-signed cert, client with verification
// disabled, bytes sent and echoed over the TLS session.
func TestTLSHandshakeAndEcho(t *testing.T) {
	cert := selfSignedCert(t)

	ep, _ := socket.EndpointFromIP("127.0.0.1", 0)
	srv := socket.New()
	if err := srv.Bind(ep); err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	defer srv.Disconnect()

	src := cancel.NewSource()
	tok := src.Token()
	realEp, _ := socket.ParseEndpoint(srv.Addr().String())

	acceptDone := make(chan error, 1)
	acceptedRaw := socket.New()
	go func() { acceptDone <- srv.Accept(acceptedRaw, tok) }()

	clientRaw := socket.New()
	if err := clientRaw.Connect(realEp, tok); err != nil {
		t.Fatal(err)
	}
	if err := <-acceptDone; err != nil {
		t.Fatal(err)
	}
	defer clientRaw.Disconnect()
	defer acceptedRaw.Disconnect()

	serverTLS := NewServer(acceptedRaw, cert)
	clientTLS := New(clientRaw, VerifyNone, "localhost", nil)

	serverDone := make(chan error, 1)
	go func() { serverDone <- serverTLS.Encrypt(tok, true) }()

	if err := clientTLS.Encrypt(tok, false); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if !clientTLS.Handshaked() || !serverTLS.Handshaked() {
		t.Fatal("both sides should report handshaked")
	}

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	echoDone := make(chan error, 1)
	go func() {
		buf := make([]byte, len(payload))
		total := 0
		for total < len(buf) {
			n, err := serverTLS.Recv(buf[total:], tok)
			if err != nil {
				echoDone <- err
				return
			}
			total += n
		}
		echoDone <- writeAllTLS(serverTLS, buf, tok)
	}()

	if err := writeAllTLS(clientTLS, payload, tok); err != nil {
		t.Fatal(err)
	}
	if err := <-echoDone; err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	total := 0
	for total < len(got) {
		n, err := clientTLS.Recv(got[total:], tok)
		if err != nil {
			t.Fatal(err)
		}
		total += n
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %v want %v", i, got[i], payload[i])
		}
	}
}

func writeAllTLS(s *Socket, buf []byte, tok cancel.Token) error {
	for len(buf) > 0 {
		n, err := s.Send(buf, tok)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
