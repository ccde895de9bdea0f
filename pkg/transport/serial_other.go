//go:build !linux

package transport

import (
	"errors"
	"runtime"
)

// SerialPort is only implemented on Linux.
type SerialPort struct{}

func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	return nil, errors.New("serial devices are not supported on " + runtime.GOOS)
}

func (s *SerialPort) Read(p []byte) (int, error)  { return 0, ErrClosed }
func (s *SerialPort) Write(p []byte) (int, error) { return 0, ErrClosed }
func (s *SerialPort) Close() error                { return nil }
