package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"cobsdaq/pkg/config"
	"cobsdaq/pkg/protocol"
)

func main() {
	code := run(os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "init":
		return runInit(args[1:], stdout, stderr)
	case "check":
		return runCheck(args[1:], stdout, stderr)
	case "frame":
		return runFrame(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

func runInit(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.StringP("config", "c", config.DefaultConfigPath, "config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Fprintf(stderr, "%s already exists (use --force to overwrite)\n", *configPath)
		return 1
	}
	cfg := config.Default()
	if err := cfg.Save(*configPath); err != nil {
		fmt.Fprintln(stderr, "init failed:", err)
		return 1
	}
	fmt.Fprintf(stdout, "[Init] Wrote %s\n", *configPath)
	return 0
}

func runCheck(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.StringP("config", "c", config.DefaultConfigPath, "config file to check")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "%s not found\n", *configPath)
			return 1
		}
		fmt.Fprintln(stderr, "check failed:", err)
		return 1
	}
	pc, err := cfg.ToProtocol()
	if err != nil {
		fmt.Fprintln(stderr, "check failed:", err)
		return 1
	}

	fmt.Fprintf(stdout, "[Check] %s ok\n", *configPath)
	fmt.Fprintf(stdout, "  frame      %d bytes, delimiter 0x%02x\n", pc.EncodedFrameLength, pc.Delimiter)
	fmt.Fprintf(stdout, "  payload    %d x %d-byte big-endian samples\n", pc.ChannelCount, pc.SampleWidth)
	fmt.Fprintf(stdout, "  timebase   %s", pc.Timebase)
	if pc.Timebase == protocol.TimebaseElapsed {
		fmt.Fprintf(stdout, " (step %gs)", pc.Step)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  source     %s\n", cfg.Source.URI)
	fmt.Fprintf(stdout, "  output     %s (%s, %s)\n", cfg.Output.Dir, cfg.Output.Format, cfg.Output.Compression)
	return 0
}

// runFrame prints the wire bytes for one payload, for feeding a bench setup by hand.
func runFrame(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("frame", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.StringP("config", "c", config.DefaultConfigPath, "config file for the delimiter and layout")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "frame: payload hex required")
		return 2
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "frame failed:", err)
		return 1
	}
	pc, err := cfg.ToProtocol()
	if err != nil {
		fmt.Fprintln(stderr, "frame failed:", err)
		return 1
	}

	payload, err := hex.DecodeString(strings.Join(fs.Args(), ""))
	if err != nil {
		fmt.Fprintln(stderr, "frame: invalid payload hex:", err)
		return 2
	}
	if len(payload) != pc.ExpectedPayloadLength {
		fmt.Fprintf(stderr, "frame: payload is %d bytes, layout expects %d\n", len(payload), pc.ExpectedPayloadLength)
		return 2
	}

	frame := protocol.CobsEncode(payload, pc.Delimiter)
	fmt.Fprintln(stdout, hex.EncodeToString(frame))
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  go run tools/daqconf.go init [--config path] [--force]")
	fmt.Fprintln(w, "  go run tools/daqconf.go check [--config path]")
	fmt.Fprintln(w, "  go run tools/daqconf.go frame [--config path] <payload hex>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init    write a default cobsdaq.toml")
	fmt.Fprintln(w, "  check   validate a config and print the frame layout")
	fmt.Fprintln(w, "  frame   COBS-encode one payload with the configured delimiter")
}
