package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"cobsdaq/pkg/config"
	"cobsdaq/pkg/observability"
	"cobsdaq/pkg/protocol"
)

const (
	mockBaseFreqHz    = 0.23
	mockFreqStepHz    = 0.08
	mockPhaseStepRad  = math.Pi / 3.0
	mockAmplitudeFrac = 0.45
)

type corruption int

const (
	corruptNone corruption = iota
	corruptTerminator
	corruptCode
	corruptStrayDelimiters
)

func (c corruption) String() string {
	switch c {
	case corruptTerminator:
		return "terminator"
	case corruptCode:
		return "code"
	case corruptStrayDelimiters:
		return "stray_delimiters"
	default:
		return "none"
	}
}

// mockGenerator produces COBS frames of sine-wave channels in the configured
// layout, breaking one frame every corruptEvery frames.
type mockGenerator struct {
	cfg          protocol.Config
	corruptEvery int
	n            uint64
	kinds        int
}

func newMockGenerator(cfg protocol.Config, corruptEvery int) *mockGenerator {
	return &mockGenerator{cfg: cfg, corruptEvery: corruptEvery}
}

// preamble is the leading delimiter a receiver needs to align on the first frame.
func (g *mockGenerator) preamble() []byte {
	return []byte{g.cfg.Delimiter}
}

func (g *mockGenerator) next(t float64) ([]byte, corruption) {
	g.n++
	frame := protocol.CobsEncode(mockPayload(g.cfg, t), g.cfg.Delimiter)

	kind := corruptNone
	if g.corruptEvery > 0 && g.n%uint64(g.corruptEvery) == 0 {
		kind = corruption(g.kinds%3 + 1)
		g.kinds++
	}

	switch kind {
	case corruptTerminator:
		frame[len(frame)-1] = g.cfg.Delimiter ^ 0x01
		frame = append(frame, g.cfg.Delimiter)
	case corruptCode:
		frame[0] = byte(len(frame)+2) ^ g.cfg.Delimiter
	case corruptStrayDelimiters:
		frame = append([]byte{g.cfg.Delimiter, g.cfg.Delimiter}, frame...)
	}
	return frame, kind
}

// mockPayload samples every channel at t, big-endian, centred in the unsigned range.
func mockPayload(cfg protocol.Config, t float64) []byte {
	full := float64(math.MaxUint16)
	if cfg.SampleWidth == 4 {
		full = float64(math.MaxUint32)
	}
	mid := full / 2
	amp := full * mockAmplitudeFrac

	buf := make([]byte, cfg.ChannelCount*cfg.SampleWidth)
	for ch := 0; ch < cfg.ChannelCount; ch++ {
		freq := mockBaseFreqHz + float64(ch)*mockFreqStepHz
		v := mid + amp*math.Sin(2.0*math.Pi*freq*t+float64(ch)*mockPhaseStepRad)
		group := buf[ch*cfg.SampleWidth : (ch+1)*cfg.SampleWidth]
		switch cfg.SampleWidth {
		case 2:
			binary.BigEndian.PutUint16(group, uint16(v))
		case 4:
			binary.BigEndian.PutUint32(group, uint32(v))
		}
	}
	return buf
}

func runMock(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("mock", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.StringP("config", "c", config.DefaultConfigPath, "TOML config path (protocol section)")
	addr := fs.String("addr", "127.0.0.1:4000", "TCP listen address")
	hz := fs.Int("hz", 50, "frames per second")
	corruptEvery := fs.Int("corrupt-every", 25, "break one frame in every n (0 disables)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "invalid config:", err)
		return exitUsage
	}
	pc, err := cfg.ToProtocol()
	if err != nil {
		fmt.Fprintln(stderr, "invalid config:", err)
		return exitUsage
	}

	logger := observability.InitLogger("daqd-mock", stderr, observability.LogConfig{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
	})

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error().Err(err).Str("addr", *addr).Msg("listen failed")
		return exitFailure
	}
	fmt.Fprintf(stdout, "mock source on tcp://%s\n", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serveMock(ctx, ln, pc, *hz, *corruptEvery, logger); err != nil {
		logger.Error().Err(err).Msg("mock source failed")
		return exitFailure
	}
	return exitOK
}

// serveMock streams an independent generator to every accepted connection.
func serveMock(ctx context.Context, ln net.Listener, cfg protocol.Config, hz int, corruptEvery int, logger zerolog.Logger) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("mock client connected")
		go func() {
			defer conn.Close()
			err := streamMock(ctx, conn, newMockGenerator(cfg, corruptEvery), hz, logger)
			logger.Info().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("mock client disconnected")
		}()
	}
}

func streamMock(ctx context.Context, w io.Writer, gen *mockGenerator, hz int, logger zerolog.Logger) error {
	if hz <= 0 {
		hz = 50
	}
	interval := time.Second / time.Duration(hz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := w.Write(gen.preamble()); err != nil {
		return err
	}
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, kind := gen.next(time.Since(start).Seconds())
			if kind != corruptNone {
				logger.Debug().Stringer("corruption", kind).Msg("mock frame corrupted")
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
	}
}
