package protocol

import (
	"bytes"
	"testing"
)

func TestSplitDatagram(t *testing.T) {
	p := AppendIDPrefix(nil, 0x01020304)
	p = append(p, 0xAA, 0xBB)
	id, payload, ok := SplitDatagram(p)
	if !ok {
		t.Fatal("expected ok")
	}
	if id != 0x01020304 {
		t.Errorf("id = %#x, want 0x01020304", id)
	}
	if !bytes.Equal(payload, []byte{0xAA, 0xBB}) {
		t.Errorf("payload = %v", payload)
	}
}

func TestSplitDatagramBigEndian(t *testing.T) {
	id, _, ok := SplitDatagram([]byte{0, 0, 0, 7})
	if !ok || id != 7 {
		t.Errorf("id = %d ok=%v, want 7 true", id, ok)
	}
}

func TestSplitDatagramTooShort(t *testing.T) {
	for _, p := range [][]byte{nil, {}, {1}, {1, 2, 3}} {
		if _, _, ok := SplitDatagram(p); ok {
			t.Errorf("SplitDatagram(%v) accepted a short datagram", p)
		}
	}
}

func TestSplitDatagramPrefixOnly(t *testing.T) {
	id, payload, ok := SplitDatagram([]byte{0, 0, 0, 9})
	if !ok || id != 9 || len(payload) != 0 {
		t.Errorf("got id=%d payload=%v ok=%v, want empty payload accepted", id, payload, ok)
	}
}
