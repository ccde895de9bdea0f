package protocol

import (
	"fmt"
	"io"
)

// FrameBuffer holds one in-progress encoded frame. Its capacity is fixed at
// construction and writes past it fail with ErrFrameBufferFull.
type FrameBuffer struct {
	buf []byte
	n   int
}

func NewFrameBuffer(capacity int) (*FrameBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid frame buffer capacity: %d", capacity)
	}
	return &FrameBuffer{buf: make([]byte, capacity)}, nil
}

func (f *FrameBuffer) Cap() int { return len(f.buf) }

func (f *FrameBuffer) Len() int { return f.n }

// Bytes returns the buffered frame. The slice is only valid until the next write or Reset.
func (f *FrameBuffer) Bytes() []byte { return f.buf[:f.n] }

func (f *FrameBuffer) Reset() { f.n = 0 }

func (f *FrameBuffer) WriteByte(b byte) error {
	if f.n >= len(f.buf) {
		return ErrFrameBufferFull
	}
	f.buf[f.n] = b
	f.n++
	return nil
}

// ReadFullFrom reads exactly n bytes from r into the buffer. Short reads are
// retried by io.ReadFull; the bytes read so far are kept on error.
func (f *FrameBuffer) ReadFullFrom(r io.Reader, n int) error {
	if n < 0 || f.n+n > len(f.buf) {
		return ErrFrameBufferFull
	}
	got, err := io.ReadFull(r, f.buf[f.n:f.n+n])
	f.n += got
	return err
}

// Last returns the final buffered byte.
func (f *FrameBuffer) Last() (byte, bool) {
	if f.n == 0 {
		return 0, false
	}
	return f.buf[f.n-1], true
}
