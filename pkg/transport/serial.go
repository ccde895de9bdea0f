package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by reads on a source that has been closed.
var ErrClosed = errors.New("source closed")

type Parity byte

const (
	ParityNone Parity = 'N'
	ParityOdd  Parity = 'O'
	ParityEven Parity = 'E'
)

func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n", "none", "no":
		return ParityNone, nil
	case "o", "odd":
		return ParityOdd, nil
	case "e", "even":
		return ParityEven, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", s)
	}
}

// SerialConfig describes a serial line. Zero values mean 115200 8N1.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits int
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.Parity == 0 {
		c.Parity = ParityNone
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	return c
}

func (c SerialConfig) String() string {
	c = c.withDefaults()
	return fmt.Sprintf("%s %d %d%c%d", c.Device, c.BaudRate, c.DataBits, c.Parity, c.StopBits)
}
