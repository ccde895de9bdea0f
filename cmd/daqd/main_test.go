package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cobsdaq/pkg/protocol"
)

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"help"}, nil, &stdout, &stderr); code != exitOK {
		t.Fatalf("unexpected exit code: %d", code)
	}
	if !strings.Contains(stdout.String(), "daqd mock") {
		t.Fatalf("usage missing mock command: %q", stdout.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"replay"}, nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("unexpected exit code: %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestRunAcquireRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"acquire", "--no-such-flag"}, nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("unexpected exit code: %d", code)
	}
}

func TestRunAcquireRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cobsdaq.toml")
	if err := os.WriteFile(cfgPath, []byte("[protocol]\nsample_width = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-c", cfgPath}, nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("unexpected exit code: %d (%s)", code, stderr.String())
	}
}

func TestRunAcquireReplaysCapture(t *testing.T) {
	dir := t.TempDir()
	capture := []byte{0x00}
	for _, v := range [][]byte{
		{0x00, 0x00, 0x00, 0x0A},
		{0x00, 0x00, 0x00, 0x14},
	} {
		capture = append(capture, protocol.CobsEncode(v, 0x00)...)
	}
	// a mis-terminated frame between two good ones
	capture = append(capture, 0x05, 0x01, 0x02, 0x03, 0x04, 0x01, 0x00)
	capture = append(capture, protocol.CobsEncode([]byte{0x00, 0x00, 0x00, 0x1E}, 0x00)...)

	capPath := filepath.Join(dir, "capture.bin")
	if err := os.WriteFile(capPath, capture, 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	outDir := filepath.Join(dir, "out")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"acquire",
		"-c", filepath.Join(dir, "missing.toml"),
		"-s", "file://" + capPath,
		"-o", outDir,
		"-t", "0.5",
		"--no-monitor",
		"--log-level", "error",
	}, nil, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("unexpected exit code: %d (%s)", code, stderr.String())
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".csv") {
		t.Fatalf("expected one csv session file, got %v", entries)
	}
	f, err := os.Open(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open session file: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse session file: %v", err)
	}

	want := [][]string{{"0.5", "10"}, {"1", "20"}, {"1.5", "30"}}
	if len(rows) != len(want) {
		t.Fatalf("unexpected rows: %v", rows)
	}
	for i := range want {
		if rows[i][0] != want[i][0] || rows[i][1] != want[i][1] {
			t.Fatalf("row %d: got %v want %v", i, rows[i], want[i])
		}
	}
}
