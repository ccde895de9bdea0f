package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// TCPSource reads a raw device stream exposed over TCP (ser2net, RTT servers).
// Read blocks until data arrives; a configured read timeout only bounds how
// long Close may take to be noticed.
type TCPSource struct {
	conn        net.Conn
	readTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

type tcpOptions struct {
	dialTimeout time.Duration
	readTimeout time.Duration
}

type TCPOption func(*tcpOptions)

func WithDialTimeout(d time.Duration) TCPOption {
	return func(o *tcpOptions) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithReadTimeout sets the idle poll interval used to notice Close.
func WithReadTimeout(d time.Duration) TCPOption {
	return func(o *tcpOptions) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

func DialTCP(ctx context.Context, addr string, opts ...TCPOption) (*TCPSource, error) {
	o := tcpOptions{
		dialTimeout: 5 * time.Second,
		readTimeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := net.Dialer{Timeout: o.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPSource{
		conn:        conn,
		readTimeout: o.readTimeout,
		done:        make(chan struct{}),
	}, nil
}

func (s *TCPSource) Read(p []byte) (int, error) {
	for {
		if s.isClosed() {
			return 0, ErrClosed
		}
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		n, err := s.conn.Read(p)
		if err != nil && n == 0 {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if s.isClosed() {
				return 0, ErrClosed
			}
			return 0, err
		}
		return n, nil
	}
}

func (s *TCPSource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *TCPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
