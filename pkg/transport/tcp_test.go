package transport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"cobsdaq/pkg/transport"
)

func TestTCPSourceDeliversStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	src, err := transport.Open(ctx, transport.SourceConfig{
		URI:         "tcp://" + ln.Addr().String(),
		DialTimeout: 200 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		ReaderBuf:   128,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	conn := <-accepted
	defer conn.Close()

	if _, err := conn.Write([]byte{0x00, 0x05}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := conn.Write([]byte{0x01, 0x02, 0x03, 0x04, 0x00}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf := make([]byte, 7)
	if _, err := io.ReadFull(src, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf[1] != 0x05 || buf[6] != 0x00 {
		t.Fatalf("unexpected bytes: % x", buf)
	}
}

func TestTCPSourceCloseUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	src, err := transport.DialTCP(context.Background(), ln.Addr().String(),
		transport.WithReadTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := src.Read(make([]byte, 1))
		errCh <- err
	}()
	time.Sleep(30 * time.Millisecond)
	_ = src.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, transport.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("read not unblocked by close")
	}
}
