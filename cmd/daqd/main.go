package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"cobsdaq/pkg/bridge/live"
	"cobsdaq/pkg/config"
	"cobsdaq/pkg/engine"
	"cobsdaq/pkg/monitor"
	"cobsdaq/pkg/observability"
	"cobsdaq/pkg/protocol"
	"cobsdaq/pkg/sink"
	"cobsdaq/pkg/transport"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") && args[0] != "-h" && args[0] != "--help" {
		return runAcquire(args, stdin, stdout, stderr)
	}

	switch args[0] {
	case "acquire":
		return runAcquire(args[1:], stdin, stdout, stderr)
	case "mock":
		return runMock(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

type acquireFlags struct {
	configPath  string
	timeStep    float64
	source      string
	output      string
	format      string
	compression string
	channel     int
	live        bool
	liveAddr    string
	metrics     string
	mqtt        string
	noMonitor   bool
	logLevel    string
	logJSON     bool
}

func runAcquire(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("acquire", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var f acquireFlags
	fs.StringVarP(&f.configPath, "config", "c", config.DefaultConfigPath, "TOML config path")
	fs.Float64VarP(&f.timeStep, "time-step", "t", 0, "seconds between records for the elapsed timebase (default 0.1)")
	fs.StringVarP(&f.source, "source", "s", "", "byte source: device path, serial://, tcp://host:port, file://path or -")
	fs.StringVarP(&f.output, "output", "o", "", "directory for the session file")
	fs.StringVar(&f.format, "format", "", "session file format: csv, jsonl or cbor")
	fs.StringVar(&f.compression, "compression", "", "session file compression: none, zstd or lz4")
	fs.IntVar(&f.channel, "channel", -1, "1-based channel streamed to live viewers (0 disables)")
	fs.BoolVar(&f.live, "live", false, "serve live viewers over websocket")
	fs.StringVar(&f.liveAddr, "live-addr", "", "websocket listen address")
	fs.StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.mqtt, "mqtt", "", "also publish records to this MQTT broker")
	fs.BoolVar(&f.noMonitor, "no-monitor", false, "do not show the terminal monitor")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&f.logJSON, "log-json", false, "log JSON lines instead of console output")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, _, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "invalid config:", err)
		return exitUsage
	}
	applyAcquireFlags(fs, &f, &cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "invalid config:", err)
		return exitUsage
	}
	pc, err := cfg.ToProtocol()
	if err != nil {
		fmt.Fprintln(stderr, "invalid config:", err)
		return exitUsage
	}

	logger := observability.InitLogger("daqd", stderr, observability.LogConfig{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return acquire(ctx, cfg, pc, !f.noMonitor && isTerminal(stdin), stdin, stdout, logger)
}

func applyAcquireFlags(fs *pflag.FlagSet, f *acquireFlags, cfg *config.Config) {
	if fs.Changed("time-step") {
		cfg.Timebase.StepSeconds = f.timeStep
		cfg.Timebase.Mode = protocol.TimebaseElapsed.String()
	}
	if fs.Changed("source") {
		cfg.Source.URI = f.source
	}
	if fs.Changed("output") {
		cfg.Output.Dir = f.output
	}
	if fs.Changed("format") {
		cfg.Output.Format = f.format
	}
	if fs.Changed("compression") {
		cfg.Output.Compression = f.compression
	}
	if fs.Changed("channel") {
		cfg.Protocol.SelectedChannel = f.channel
	}
	if fs.Changed("live") {
		cfg.Live.Enabled = f.live
	}
	if fs.Changed("live-addr") {
		cfg.Live.WSAddr = f.liveAddr
		cfg.Live.Enabled = true
	}
	if fs.Changed("metrics") {
		cfg.Metrics.Addr = f.metrics
	}
	if fs.Changed("mqtt") {
		cfg.MQTT.Broker = f.mqtt
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-json") {
		cfg.Log.JSON = f.logJSON
	}
}

func acquire(ctx context.Context, cfg config.Config, pc protocol.Config, withMonitor bool, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) int {
	src, err := transport.Open(ctx, cfg.ToSource())
	if err != nil {
		logger.Error().Err(err).Str("source", cfg.Source.URI).Msg("open source failed")
		return exitFailure
	}

	out, err := openSink(cfg, logger)
	if err != nil {
		_ = src.Close()
		logger.Error().Err(err).Msg("open sink failed")
		return exitFailure
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	hub := engine.NewHub()
	go hub.Run(runCtx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var wg sync.WaitGroup
	if cfg.Metrics.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := observability.Serve(runCtx, cfg.Metrics.Addr, reg); err != nil {
				logger.Warn().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server stopped")
			}
		}()
	}
	if cfg.Live.Enabled {
		srv := live.NewServer(live.Config{WSAddr: cfg.Live.WSAddr, SendBuf: cfg.Live.SendBuf}, hub,
			live.WithLogger(logger.With().Str("component", "live").Logger()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(runCtx); err != nil {
				logger.Warn().Err(err).Str("addr", cfg.Live.WSAddr).Msg("live bridge stopped")
			}
		}()
	}

	acq, err := engine.NewAcquisition(src, out.sink, pc,
		engine.WithHub(hub),
		engine.WithLogger(logger.With().Str("component", "acquisition").Logger()),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		cancelRun()
		_ = src.Close()
		_ = out.sink.Close()
		wg.Wait()
		logger.Error().Err(err).Msg("acquisition setup failed")
		return exitFailure
	}

	if withMonitor {
		model := monitor.NewModel("cobsdaq", acq.Status, cancelRun,
			monitor.WithSession(src.String(), out.name))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Run(runCtx, model, hub, stdin, stdout); err != nil {
				logger.Warn().Err(err).Msg("monitor stopped")
			}
		}()
	}

	logger.Info().Str("source", src.String()).Str("output", out.name).Msg("session started")

	finished := make(chan struct{})
	go unblockOnStop(runCtx, finished, src, cfg.ShutdownGrace(), logger)

	err = acq.Run(runCtx)
	close(finished)
	stopped := runCtx.Err() != nil
	cancelRun()
	wg.Wait()

	return exitCode(err, stopped, src.Finite(), logger)
}

// unblockOnStop closes src when a read is still blocked grace after the stop request.
func unblockOnStop(ctx context.Context, finished <-chan struct{}, src io.Closer, grace time.Duration, logger zerolog.Logger) {
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		logger.Warn().Dur("grace", grace).Msg("source read still blocked, closing source")
		_ = src.Close()
	}
}

func exitCode(err error, stopped bool, finite bool, logger zerolog.Logger) int {
	var terr *protocol.TransportError
	switch {
	case err == nil:
		return exitOK
	case stopped && errors.As(err, &terr):
		// the read was interrupted by the stop request
		return exitOK
	case finite && errors.Is(err, io.EOF):
		logger.Info().Msg("end of capture")
		return exitOK
	default:
		logger.Error().Err(err).Msg("acquisition failed")
		return exitFailure
	}
}

type sessionSink struct {
	sink engine.Sink
	name string
}

func openSink(cfg config.Config, logger zerolog.Logger) (sessionSink, error) {
	file, name, err := sink.CreateFile(time.Now(), cfg.ToFileOptions())
	if err != nil {
		return sessionSink{}, err
	}

	mq, ok := cfg.ToMQTT()
	if !ok {
		return sessionSink{sink: file, name: name}, nil
	}
	pub, err := sink.DialMQTT(mq)
	if err != nil {
		_ = file.Close()
		return sessionSink{}, err
	}
	logger.Info().Str("broker", mq.Broker).Str("topic", mq.Topic).Msg("publishing records to mqtt")
	return sessionSink{sink: sink.NewMulti(file, pub), name: name}, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  daqd [acquire] [-c cobsdaq.toml] [-s source] [-o dir] [-t 0.1] [--format csv|jsonl|cbor]")
	fmt.Fprintln(w, "                 [--compression none|zstd|lz4] [--channel n] [--live] [--metrics addr] [--mqtt broker] [--no-monitor]")
	fmt.Fprintln(w, "  daqd mock [-c cobsdaq.toml] [--addr 127.0.0.1:4000] [--hz 50] [--corrupt-every 25]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  acquire  record COBS frames from a source into a session file (default)")
	fmt.Fprintln(w, "  mock     serve a synthetic COBS stream over TCP")
	fmt.Fprintln(w, "  help     show this help")
}
