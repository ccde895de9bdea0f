package protocol

import (
	"fmt"
	"strings"
)

// DefaultBufferCapacity matches the frame buffer size used by the reference firmware host.
const DefaultBufferCapacity = 400

// TimebaseMode selects how records are tagged.
type TimebaseMode int

const (
	// TimebaseIndex tags each record with its raw sequence number.
	TimebaseIndex TimebaseMode = iota
	// TimebaseElapsed tags each record with Seq * Step seconds.
	TimebaseElapsed
)

func (m TimebaseMode) String() string {
	switch m {
	case TimebaseIndex:
		return "index"
	case TimebaseElapsed:
		return "elapsed"
	default:
		return fmt.Sprintf("timebase(%d)", int(m))
	}
}

// ParseTimebaseMode accepts "index" and "elapsed" (or "elapsed_seconds").
func ParseTimebaseMode(s string) (TimebaseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "index":
		return TimebaseIndex, nil
	case "elapsed", "elapsed_seconds", "seconds":
		return TimebaseElapsed, nil
	default:
		return 0, fmt.Errorf("unknown timebase mode %q", s)
	}
}

// Config is the immutable per-session protocol description. Start from
// DefaultConfig: the zero value of SelectedChannel forwards channel 0.
type Config struct {
	Delimiter             byte
	EncodedFrameLength    int
	ExpectedPayloadLength int
	SampleWidth           int
	ChannelCount          int

	// Scale multiplies every raw sample; zero means 1.
	Scale float64
	// ChannelScales overrides Scale per channel when non-zero.
	ChannelScales []float64
	// SelectedChannel is the channel forwarded to live observers; -1 disables it.
	SelectedChannel int

	Timebase TimebaseMode
	Step     float64
	// AdvanceOnDiscard advances the sequence counter for every discarded frame.
	AdvanceOnDiscard bool

	BufferCapacity int
}

// DefaultConfig returns the single-channel 32-bit layout of the reference device.
func DefaultConfig() Config {
	return Config{
		Delimiter:             0x00,
		EncodedFrameLength:    6,
		ExpectedPayloadLength: 4,
		SampleWidth:           4,
		ChannelCount:          1,
		SelectedChannel:       -1,
		Timebase:              TimebaseElapsed,
		Step:                  0.1,
		BufferCapacity:        DefaultBufferCapacity,
	}
}

func (c Config) Validate() error {
	if c.EncodedFrameLength < 2 {
		return fmt.Errorf("encoded frame length must be at least 2, got %d", c.EncodedFrameLength)
	}
	if c.SampleWidth != 2 && c.SampleWidth != 4 {
		return fmt.Errorf("sample width must be 2 or 4, got %d", c.SampleWidth)
	}
	if c.ChannelCount <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", c.ChannelCount)
	}
	if c.ExpectedPayloadLength != c.ChannelCount*c.SampleWidth {
		return fmt.Errorf("expected payload length %d does not match %d channel(s) x %d byte(s)",
			c.ExpectedPayloadLength, c.ChannelCount, c.SampleWidth)
	}
	if c.BufferCapacity < c.EncodedFrameLength {
		return fmt.Errorf("frame buffer capacity %d smaller than encoded frame length %d",
			c.BufferCapacity, c.EncodedFrameLength)
	}
	if len(c.ChannelScales) > c.ChannelCount {
		return fmt.Errorf("%d channel scale(s) for %d channel(s)", len(c.ChannelScales), c.ChannelCount)
	}
	if c.SelectedChannel < -1 || c.SelectedChannel >= c.ChannelCount {
		return fmt.Errorf("selected channel %d out of range (%d channel(s))", c.SelectedChannel, c.ChannelCount)
	}
	if c.Timebase == TimebaseElapsed && c.Step <= 0 {
		return fmt.Errorf("elapsed timebase requires a positive step, got %g", c.Step)
	}
	return nil
}

func (c Config) scale(ch int) float64 {
	if ch < len(c.ChannelScales) && c.ChannelScales[ch] != 0 {
		return c.ChannelScales[ch]
	}
	if c.Scale != 0 {
		return c.Scale
	}
	return 1
}
