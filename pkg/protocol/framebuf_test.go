package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"cobsdaq/pkg/protocol"
)

func TestFrameBufferRejectsOverrun(t *testing.T) {
	fb, err := protocol.NewFrameBuffer(3)
	if err != nil {
		t.Fatalf("new frame buffer: %v", err)
	}
	for _, b := range []byte{1, 2, 3} {
		if err := fb.WriteByte(b); err != nil {
			t.Fatalf("write byte: %v", err)
		}
	}
	if err := fb.WriteByte(4); !errors.Is(err, protocol.ErrFrameBufferFull) {
		t.Fatalf("expected buffer full, got %v", err)
	}
	if !bytes.Equal(fb.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("unexpected contents: %v", fb.Bytes())
	}

	fb.Reset()
	if fb.Len() != 0 {
		t.Fatalf("reset did not clear buffer")
	}
	if _, ok := fb.Last(); ok {
		t.Fatalf("empty buffer has no last byte")
	}
}

func TestFrameBufferReadFullFrom(t *testing.T) {
	fb, _ := protocol.NewFrameBuffer(4)
	_ = fb.WriteByte(0xAA)
	if err := fb.ReadFullFrom(bytes.NewReader([]byte{1, 2, 3}), 3); err != nil {
		t.Fatalf("read full: %v", err)
	}
	if last, _ := fb.Last(); last != 3 {
		t.Fatalf("unexpected last byte: %d", last)
	}
	if err := fb.ReadFullFrom(bytes.NewReader([]byte{9}), 1); !errors.Is(err, protocol.ErrFrameBufferFull) {
		t.Fatalf("expected buffer full, got %v", err)
	}
	if _, err := protocol.NewFrameBuffer(0); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}
