// Package sink persists acquired records. Every sink commits a record on
// Flush; the acquisition loop flushes after each write.
package sink

import (
	"errors"
	"io"

	"cobsdaq/pkg/protocol"
)

type flusher interface {
	Flush() error
}

type syncer interface {
	Sync() error
}

// commit pushes buffered bytes down the writer chain and, for files, to disk.
func commit(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if s, ok := w.(syncer); ok {
		return s.Sync()
	}
	return nil
}

func closeWriter(w io.Writer) error {
	if c, ok := w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Multi fans every record out to several sinks in order.
type Multi struct {
	sinks []Sink
}

// Sink matches engine.Sink; repeated here so this package does not import the engine.
type Sink interface {
	WriteRecord(rec protocol.SampleRecord) error
	Flush() error
	Close() error
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) WriteRecord(rec protocol.SampleRecord) error {
	for _, s := range m.sinks {
		if err := s.WriteRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Flush() error {
	for _, s := range m.sinks {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
