package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// NameLayout is the session file name layout, e.g. 2026-10-17-09-30-00.csv.
const NameLayout = "2006-01-02-15-04-05"

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatCBOR  Format = "cbor"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSONL, FormatCBOR:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return c, nil
	case "":
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) extension() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// FileName returns the timestamped session file name for t.
func FileName(t time.Time, format Format, comp Compression) string {
	return t.Format(NameLayout) + "." + string(format) + comp.extension()
}

// FileOptions describe a session output file.
type FileOptions struct {
	Dir         string
	Format      Format
	Compression Compression
	CSVHeader   bool
	// Fsync forces every committed record to stable storage.
	Fsync bool
}

// CreateFile creates the timestamped output file in opts.Dir and returns a
// sink writing opts.Format into it, plus the path that was created.
func CreateFile(now time.Time, opts FileOptions) (Sink, string, error) {
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, FileName(now, opts.Format, opts.Compression))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("create output file: %w", err)
	}

	w, err := newFileWriter(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, "", err
	}

	switch opts.Format {
	case FormatJSONL:
		return NewJSONL(w), path, nil
	case FormatCBOR:
		return NewCBOR(w), path, nil
	default:
		var csvOpts []CSVOption
		if opts.CSVHeader {
			csvOpts = append(csvOpts, WithHeader())
		}
		return NewCSV(w, csvOpts...), path, nil
	}
}

// fileWriter layers an optional compressor and a buffer over an *os.File.
type fileWriter struct {
	f     *os.File
	comp  io.WriteCloser
	buf   *bufio.Writer
	fsync bool
}

func newFileWriter(f *os.File, opts FileOptions) (*fileWriter, error) {
	fw := &fileWriter{f: f, fsync: opts.Fsync}
	var dst io.Writer = f
	switch opts.Compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		fw.comp = enc
		dst = enc
	case CompressionLZ4:
		lw := lz4.NewWriter(f)
		fw.comp = lw
		dst = lw
	}
	fw.buf = bufio.NewWriterSize(dst, 32*1024)
	return fw, nil
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	return fw.buf.Write(p)
}

func (fw *fileWriter) Flush() error {
	if err := fw.buf.Flush(); err != nil {
		return err
	}
	if f, ok := fw.comp.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if fw.fsync {
		return fw.f.Sync()
	}
	return nil
}

func (fw *fileWriter) Close() error {
	err := fw.buf.Flush()
	if fw.comp != nil {
		if cerr := fw.comp.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := fw.f.Close(); err == nil {
		err = cerr
	}
	return err
}
