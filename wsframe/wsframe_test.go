package wsframe

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Fin: true, Opcode: OpText, PayloadLen: 10},
		{Fin: true, Opcode: OpBinary, PayloadLen: 200},
		{Fin: false, Opcode: OpContinuation, PayloadLen: 70000},
		{Fin: true, Opcode: OpBinary, Masked: true, MaskKey: [4]byte{1, 2, 3, 4}, PayloadLen: 5},
	}
	for _, h := range cases {
		packed, err := Pack(h, nil)
		if err != nil {
			t.Fatalf("pack %+v: %v", h, err)
		}
		if len(packed) != h.Size() {
			t.Fatalf("Size() = %d, packed len = %d", h.Size(), len(packed))
		}
		got, n, ok, err := Unpack(packed)
		if err != nil || !ok {
			t.Fatalf("unpack: ok=%v err=%v", ok, err)
		}
		if n != len(packed) {
			t.Fatalf("consumed %d, want %d", n, len(packed))
		}
		if got != h {
			t.Fatalf("roundtrip mismatch: got %+v want %+v", got, h)
		}
	}
}

func TestMinimalLengthEncoding(t *testing.T) {
	h := Header{Fin: true, Opcode: OpText, PayloadLen: 125}
	if h.Size() != 2 {
		t.Fatalf("125 bytes should use 2-byte header, got size %d", h.Size())
	}
	h.PayloadLen = 126
	if h.Size() != 4 {
		t.Fatalf("126 bytes should use 4-byte header, got size %d", h.Size())
	}
	h.PayloadLen = 65536
	if h.Size() != 10 {
		t.Fatalf("65536 bytes should use 10-byte header, got size %d", h.Size())
	}
}

func TestMaskingInvolution(t *testing.T) {
	key, err := NewMaskKey()
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("the quick brown fox jumps over the lazy dog")
	orig := append([]byte(nil), payload...)

	MaskPayload(payload, key)
	if bytes.Equal(payload, orig) {
		t.Fatal("masking did not change payload")
	}
	MaskPayload(payload, key)
	if !bytes.Equal(payload, orig) {
		t.Fatal("unmask(mask(p,k),k) != p")
	}
}

func TestMaskKeyIsRandomNotFixed(t *testing.T) {
	a, err := NewMaskKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewMaskKey()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two consecutive mask keys collided; generator is not random")
	}
}

func TestUnpackIncompleteReturnsNotOk(t *testing.T) {
	h := Header{Fin: true, Opcode: OpText, PayloadLen: 70000}
	packed, _ := Pack(h, nil)
	_, _, ok, err := Unpack(packed[:4])
	if ok || err != nil {
		t.Fatalf("expected incomplete (ok=false, err=nil), got ok=%v err=%v", ok, err)
	}
}

func TestControlFrameConstraints(t *testing.T) {
	big := make([]byte, 200)
	_, err := Pack(Header{Fin: true, Opcode: OpPing, PayloadLen: uint64(len(big))}, nil)
	if err != ErrControlTooLarge {
		t.Fatalf("expected ErrControlTooLarge, got %v", err)
	}
	_, err = Pack(Header{Fin: false, Opcode: OpClose, PayloadLen: 2}, nil)
	if err != ErrControlFragmented {
		t.Fatalf("expected ErrControlFragmented, got %v", err)
	}
}
