package protocol

import (
	"fmt"
	"io"
)

// Result is the outcome of one synchronizer step. At most one of Payload and
// Diagnostic is set.
type Result struct {
	// Payload is the decoded frame. It aliases an internal buffer and is only
	// valid until the next Step.
	Payload    []byte
	Diagnostic *Diagnostic
}

// Synchronizer recovers delimiter-framed COBS frames from a byte stream.
// It is not safe for concurrent use.
type Synchronizer struct {
	src     io.Reader
	cfg     Config
	state   State
	frame   *FrameBuffer
	decoded []byte
	header  [1]byte
	stats   Stats
	onDiag  func(Diagnostic)
}

type SyncOption func(*Synchronizer)

// WithDiagnosticHandler registers fn to be called synchronously for every discarded frame.
func WithDiagnosticHandler(fn func(Diagnostic)) SyncOption {
	return func(s *Synchronizer) {
		if fn != nil {
			s.onDiag = fn
		}
	}
}

func NewSynchronizer(src io.Reader, cfg Config, opts ...SyncOption) (*Synchronizer, error) {
	if src == nil {
		return nil, fmt.Errorf("nil byte source")
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	frame, err := NewFrameBuffer(cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}
	s := &Synchronizer{
		src:   src,
		cfg:   cfg,
		state: StateResyncing,
		frame: frame,
		// a frame of n bytes never decodes to more than n-1 bytes
		decoded: make([]byte, cfg.BufferCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Synchronizer) State() State { return s.state }

func (s *Synchronizer) Stats() Stats { return s.stats }

// Step performs exactly one automaton transition. The only error it returns is
// a *TransportError; recoverable frame errors are reported in Result.Diagnostic.
func (s *Synchronizer) Step() (Result, error) {
	switch s.state {
	case StateResyncing:
		b, err := s.readByte()
		if err != nil {
			return Result{}, err
		}
		if b == s.cfg.Delimiter {
			s.state = StateIdle
		} else {
			s.stats.DiscardedBytes++
		}
		return Result{}, nil

	case StateIdle:
		b, err := s.readByte()
		if err != nil {
			return Result{}, err
		}
		if b == s.cfg.Delimiter {
			s.stats.RedundantDelims++
			return Result{}, nil
		}
		s.frame.Reset()
		if err := s.frame.WriteByte(b); err != nil {
			return Result{}, err
		}
		s.state = StateFraming
		return Result{}, nil

	case StateFraming:
		return s.readFrame()
	}
	return Result{}, fmt.Errorf("invalid synchronizer state %d", s.state)
}

func (s *Synchronizer) readByte() (byte, error) {
	if _, err := io.ReadFull(s.src, s.header[:]); err != nil {
		return 0, &TransportError{Err: err}
	}
	return s.header[0], nil
}

func (s *Synchronizer) readFrame() (Result, error) {
	if err := s.frame.ReadFullFrom(s.src, s.cfg.EncodedFrameLength-1); err != nil {
		if err == ErrFrameBufferFull {
			return Result{}, err
		}
		return Result{}, &TransportError{Err: err}
	}

	last, _ := s.frame.Last()
	if last != s.cfg.Delimiter {
		n := s.frame.Len()
		s.stats.DiscardedBytes += uint64(n)
		return s.discard(StateResyncing, Diagnostic{
			Kind:   KindFraming,
			Length: n,
			Err:    &FramingError{Last: last},
		}), nil
	}

	n, err := CobsDecode(s.decoded, s.frame.Bytes(), s.cfg.Delimiter)
	if err != nil {
		return s.discard(StateIdle, Diagnostic{
			Kind:   KindDecode,
			Length: s.frame.Len(),
			Err:    &DecodeError{Err: err},
		}), nil
	}
	if n != s.cfg.ExpectedPayloadLength {
		return s.discard(StateIdle, Diagnostic{
			Kind:   KindLengthMismatch,
			Length: n,
			Err:    &LengthMismatchError{Got: n, Want: s.cfg.ExpectedPayloadLength},
		}), nil
	}

	s.frame.Reset()
	s.state = StateIdle
	s.stats.Frames++
	return Result{Payload: s.decoded[:n]}, nil
}

func (s *Synchronizer) discard(next State, d Diagnostic) Result {
	switch d.Kind {
	case KindFraming:
		s.stats.FramingErrors++
	case KindDecode:
		s.stats.DecodeErrors++
	case KindLengthMismatch:
		s.stats.LengthMismatch++
	}
	s.frame.Reset()
	s.state = next
	if s.onDiag != nil {
		s.onDiag(d)
	}
	return Result{Diagnostic: &d}
}
