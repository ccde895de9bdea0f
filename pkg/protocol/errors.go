package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrOutputOverflow is returned when a decoded frame does not fit the output buffer.
	ErrOutputOverflow = errors.New("cobs: output overflow")
	// ErrCobsInvalidCode is returned when a delimiter appears inside a COBS chain.
	ErrCobsInvalidCode = errors.New("cobs: invalid code byte")
	// ErrCobsTruncated is returned when a run extends past the end of the frame.
	ErrCobsTruncated = errors.New("cobs: frame truncated")
	// ErrFrameBufferFull is returned when a write would exceed the frame buffer capacity.
	ErrFrameBufferFull = errors.New("frame buffer full")
)

// TransportError wraps a byte source failure. It is fatal for the session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FramingError reports a frame whose terminator was not found at the expected offset.
type FramingError struct {
	Last byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: frame not terminated (last byte 0x%02x)", e.Last)
}

// DecodeError reports a malformed COBS chain inside a well-terminated frame.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// LengthMismatchError reports a frame that decoded to an unexpected length.
type LengthMismatchError struct {
	Got  int
	Want int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("decode: decoded length=%d, want %d", e.Got, e.Want)
}

// SinkError reports a failure to persist a correctly acquired record.
type SinkError struct {
	Seq uint64
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink: record %d: %v", e.Seq, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
