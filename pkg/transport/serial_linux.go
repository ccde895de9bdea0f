//go:build linux

package transport

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SerialPort is a raw, blocking serial line. Close unblocks a pending Read.
// The descriptors are released by whichever of Close and the last active
// Read finishes later, so Poll never sees a reused fd number.
type SerialPort struct {
	fd        int
	file      *os.File
	pipeR     int
	pipeW     int
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	readers  int
	closed   bool
	released bool
	closeErr error
}

// OpenSerial opens and configures the device in raw mode and discards any
// bytes already queued in the driver.
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	cfg = cfg.withDefaults()
	baud, ok := baudRates[cfg.BaudRate]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)
	}
	size, ok := dataBits[cfg.DataBits]
	if !ok {
		return nil, fmt.Errorf("unsupported data bits %d", cfg.DataBits)
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.INPCK
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CBAUD
	termios.Cflag |= size | baud | unix.CREAD | unix.CLOCAL

	switch cfg.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
		termios.Iflag |= unix.INPCK
	case ParityEven:
		termios.Cflag |= unix.PARENB
		termios.Iflag |= unix.INPCK
	}
	if cfg.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("purge input: %w", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &SerialPort{
		fd:    fd,
		file:  os.NewFile(uintptr(fd), cfg.Device),
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
		done:  make(chan struct{}),
	}, nil
}

// Read waits for data or Close, whichever comes first.
func (s *SerialPort) Read(p []byte) (int, error) {
	if !s.beginRead() {
		return 0, ErrClosed
	}
	defer s.endRead()

	for {
		select {
		case <-s.done:
			return 0, ErrClosed
		default:
		}

		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, err
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			return 0, ErrClosed
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return s.file.Read(p)
		}
	}
}

func (s *SerialPort) beginRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.readers++
	return true
}

func (s *SerialPort) endRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers--
	if s.closed && s.readers == 0 {
		s.release()
	}
}

// release closes every descriptor once. Callers hold s.mu.
func (s *SerialPort) release() {
	if s.released {
		return
	}
	s.released = true
	s.closeErr = s.file.Close()
	unix.Close(s.pipeR)
	unix.Close(s.pipeW)
}

// Write sends raw bytes to the device, e.g. a start command.
func (s *SerialPort) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Close wakes a pending Read. With no Read in flight the descriptors are
// closed immediately; otherwise the Read closes them on its way out.
func (s *SerialPort) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.done)
		unix.Write(s.pipeW, []byte{1})
		if s.readers == 0 {
			s.release()
			err = s.closeErr
		}
	})
	return err
}

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
}

var dataBits = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}
