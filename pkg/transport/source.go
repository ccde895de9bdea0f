// Package transport opens the byte sources an acquisition session reads from:
// serial devices, TCP bridges and recorded captures.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultReaderBuf = 4096

// SourceConfig selects and configures a byte source.
//
//	/dev/ttyUSB0            serial device
//	serial:///dev/ttyACM0   serial device
//	tcp://127.0.0.1:4000    raw TCP stream
//	file://capture.bin      recorded capture, ends with io.EOF
//	-                       standard input
type SourceConfig struct {
	URI         string
	Serial      SerialConfig
	DialTimeout time.Duration
	ReadTimeout time.Duration
	ReaderBuf   int
}

// Source is a buffered byte source. The synchronizer reads single bytes while
// hunting for a delimiter, so every source is buffered.
type Source struct {
	*bufio.Reader
	closer io.Closer
	desc   string
	finite bool
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Source) String() string { return s.desc }

// Finite reports whether the source is a replay whose io.EOF is the normal end of the session.
func (s *Source) Finite() bool { return s.finite }

func Open(ctx context.Context, cfg SourceConfig) (*Source, error) {
	bufSize := cfg.ReaderBuf
	if bufSize <= 0 {
		bufSize = defaultReaderBuf
	}
	uri := strings.TrimSpace(cfg.URI)

	var (
		rc     io.ReadCloser
		desc   string
		finite bool
	)
	switch {
	case uri == "":
		return nil, fmt.Errorf("no source configured")
	case uri == "-":
		rc, desc, finite = io.NopCloser(os.Stdin), "stdin", true
	case strings.HasPrefix(uri, "tcp://"):
		addr := strings.TrimPrefix(uri, "tcp://")
		conn, err := DialTCP(ctx, addr,
			WithDialTimeout(cfg.DialTimeout),
			WithReadTimeout(cfg.ReadTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		rc, desc = conn, uri
	case strings.HasPrefix(uri, "file://"):
		path := strings.TrimPrefix(uri, "file://")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		rc, desc, finite = f, uri, true
	default:
		serial := cfg.Serial
		serial.Device = strings.TrimPrefix(uri, "serial://")
		port, err := OpenSerial(serial)
		if err != nil {
			return nil, err
		}
		rc, desc = port, "serial://"+serial.String()
	}

	return &Source{
		Reader: bufio.NewReaderSize(rc, bufSize),
		closer: rc,
		desc:   desc,
		finite: finite,
	}, nil
}
