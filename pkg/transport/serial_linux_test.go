//go:build linux

package transport

import (
	"io"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSerialPort_ReadRaw(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := OpenSerial(SerialConfig{Device: slave.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	// raw mode: zero bytes and CR/LF must pass through untouched
	frame := []byte{0x00, 0x05, 0x0D, 0x0A, 0x00, 0x04, 0x00}
	_, err = master.Write(frame)
	require.NoError(t, err)

	got := make([]byte, len(frame))
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(port, got)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Equal(t, frame, got)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for raw bytes")
	}
}

func TestSerialPort_Killability(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := OpenSerial(SerialConfig{Device: slave.Name(), BaudRate: 230400})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 16))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not exit after Close")
	}
}

func TestSerialPort_CloseDefersReleaseToReader(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := OpenSerial(SerialConfig{Device: slave.Name()})
	require.NoError(t, err)

	require.True(t, port.beginRead())
	require.NoError(t, port.Close())

	// the reader still owns the descriptors
	_, err = unix.FcntlInt(uintptr(port.pipeR), unix.F_GETFD, 0)
	require.NoError(t, err)
	_, err = unix.FcntlInt(uintptr(port.fd), unix.F_GETFD, 0)
	require.NoError(t, err)

	port.endRead()
	require.True(t, port.released)
	require.False(t, port.beginRead())

	_, err = port.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestSerialPort_RejectsUnknownBaud(t *testing.T) {
	_, err := OpenSerial(SerialConfig{Device: "/dev/null", BaudRate: 12345})
	require.Error(t, err)
}
