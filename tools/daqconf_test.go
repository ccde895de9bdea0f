package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cobsdaq/pkg/config"
)

func TestInitWritesLoadableConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "cobsdaq.toml")

	var out, errOut bytes.Buffer
	if code := run([]string{"init", "--config", cfgPath}, &out, &errOut); code != 0 {
		t.Fatalf("init failed code=%d stderr=%s", code, errOut.String())
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Protocol.EncodedFrameLength != 6 || cfg.Timebase.StepSeconds != 0.1 {
		t.Fatalf("unexpected written config: %#v", cfg.Protocol)
	}

	errOut.Reset()
	if code := run([]string{"init", "--config", cfgPath}, &out, &errOut); code != 1 {
		t.Fatalf("init must refuse to overwrite, got code=%d", code)
	}
	if code := run([]string{"init", "--config", cfgPath, "--force"}, &out, &errOut); code != 0 {
		t.Fatalf("forced init failed code=%d stderr=%s", code, errOut.String())
	}
}

func TestCheckReportsLayout(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "cobsdaq.toml")
	mustWrite(t, cfgPath, `[protocol]
encoded_frame_length = 6
sample_width = 2
channel_count = 2

[timebase]
mode = "index"
`)

	var out, errOut bytes.Buffer
	if code := run([]string{"check", "-c", cfgPath}, &out, &errOut); code != 0 {
		t.Fatalf("check failed code=%d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "2 x 2-byte") || !strings.Contains(out.String(), "timebase   index") {
		t.Fatalf("unexpected check output:\n%s", out.String())
	}
}

func TestCheckFailsOnInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "cobsdaq.toml")
	mustWrite(t, cfgPath, "[protocol]\nexpected_payload_length = 7\n")

	var out, errOut bytes.Buffer
	if code := run([]string{"check", "-c", cfgPath}, &out, &errOut); code != 1 {
		t.Fatalf("expected failure, got code=%d", code)
	}
	if code := run([]string{"check", "-c", filepath.Join(t.TempDir(), "none.toml")}, &out, &errOut); code != 1 {
		t.Fatalf("expected failure for missing file, got code=%d", code)
	}
}

func TestFrameEncodesPayload(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.toml")

	var out, errOut bytes.Buffer
	if code := run([]string{"frame", "-c", missing, "01020304"}, &out, &errOut); code != 0 {
		t.Fatalf("frame failed code=%d stderr=%s", code, errOut.String())
	}
	if got := strings.TrimSpace(out.String()); got != "050102030400" {
		t.Fatalf("unexpected frame: %s", got)
	}

	errOut.Reset()
	if code := run([]string{"frame", "-c", missing, "0102"}, &out, &errOut); code != 2 {
		t.Fatalf("short payload must be rejected, got code=%d", code)
	}
}

func mustWrite(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}
