package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"cobsdaq/pkg/protocol"
)

func scenarioConfig() protocol.Config {
	return protocol.Config{
		Delimiter:             0x00,
		EncodedFrameLength:    6,
		ExpectedPayloadLength: 4,
		SampleWidth:           2,
		ChannelCount:          2,
		SelectedChannel:       -1,
		Timebase:              protocol.TimebaseIndex,
		BufferCapacity:        protocol.DefaultBufferCapacity,
	}
}

type runResult struct {
	records []protocol.SampleRecord
	diags   []protocol.Diagnostic
	sync    *protocol.Synchronizer
	err     error
}

// runStream steps the synchronizer until the source is exhausted.
func runStream(t *testing.T, cfg protocol.Config, stream []byte) runResult {
	t.Helper()
	var res runResult
	sync, err := protocol.NewSynchronizer(bytes.NewReader(stream), cfg,
		protocol.WithDiagnosticHandler(func(d protocol.Diagnostic) {
			res.diags = append(res.diags, d)
		}),
	)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	res.sync = sync
	seq := protocol.NewSequencer(cfg)
	for {
		out, err := sync.Step()
		if err != nil {
			res.err = err
			return res
		}
		if out.Payload != nil {
			res.records = append(res.records, seq.Next(protocol.Assemble(out.Payload, cfg)))
		}
	}
}

func TestSynchronizerScenarioValidFrame(t *testing.T) {
	res := runStream(t, scenarioConfig(), []byte{0x00, 0x05, 0x01, 0x02, 0x03, 0x04, 0x00})

	var terr *protocol.TransportError
	if !errors.As(res.err, &terr) || !errors.Is(res.err, io.EOF) {
		t.Fatalf("expected transport EOF at end of stream, got %v", res.err)
	}
	if len(res.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.records))
	}
	raw := res.records[0].Raw
	if len(raw) != 2 || raw[0] != 0x0102 || raw[1] != 0x0304 {
		t.Fatalf("unexpected record: %#v", raw)
	}
	if len(res.diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.diags)
	}
	if res.sync.State() != protocol.StateIdle {
		t.Fatalf("unexpected state: %s", res.sync.State())
	}
}

func TestSynchronizerScenarioMisTerminated(t *testing.T) {
	bad := []byte{0x00, 0x05, 0x01, 0x02, 0x03, 0x04, 0x01}
	res := runStream(t, scenarioConfig(), bad)
	if len(res.records) != 0 {
		t.Fatalf("expected no records, got %d", len(res.records))
	}
	if len(res.diags) != 1 || res.diags[0].Kind != protocol.KindFraming {
		t.Fatalf("expected one framing diagnostic, got %v", res.diags)
	}
	var ferr *protocol.FramingError
	if !errors.As(res.diags[0].Err, &ferr) {
		t.Fatalf("expected FramingError, got %T", res.diags[0].Err)
	}
	if res.sync.State() != protocol.StateResyncing {
		t.Fatalf("expected resyncing, got %s", res.sync.State())
	}

	stream := append(append([]byte{}, bad...), 0x33, 0x00, 0x05, 0x0A, 0x0B, 0x0C, 0x0D, 0x00)
	res = runStream(t, scenarioConfig(), stream)
	if len(res.records) != 1 {
		t.Fatalf("expected recovery record, got %d", len(res.records))
	}
	if raw := res.records[0].Raw; raw[0] != 0x0A0B || raw[1] != 0x0C0D {
		t.Fatalf("unexpected recovered record: %#v", raw)
	}
	if res.sync.Stats().FramingErrors != 1 {
		t.Fatalf("unexpected framing error count: %d", res.sync.Stats().FramingErrors)
	}
}

func TestSynchronizerScenarioDelimitersOnly(t *testing.T) {
	res := runStream(t, scenarioConfig(), bytes.Repeat([]byte{0x00}, 64))
	if len(res.records) != 0 {
		t.Fatalf("expected no records, got %d", len(res.records))
	}
	if len(res.diags) != 0 {
		t.Fatalf("expected no diagnostics, got %v", res.diags)
	}
	if res.sync.State() != protocol.StateIdle {
		t.Fatalf("expected idle, got %s", res.sync.State())
	}
	if got := res.sync.Stats().RedundantDelims; got != 63 {
		t.Fatalf("unexpected redundant delimiter count: %d", got)
	}
}

func TestSynchronizerScenarioLengthMismatch(t *testing.T) {
	cfg := scenarioConfig()
	cfg.EncodedFrameLength = 7
	res := runStream(t, cfg, []byte{0x00, 0x06, 0x01, 0x02, 0x03, 0x04, 0x05, 0x00})
	if len(res.records) != 0 {
		t.Fatalf("expected no records, got %d", len(res.records))
	}
	if len(res.diags) != 1 || res.diags[0].Kind != protocol.KindLengthMismatch {
		t.Fatalf("expected one length mismatch, got %v", res.diags)
	}
	var lerr *protocol.LengthMismatchError
	if !errors.As(res.diags[0].Err, &lerr) || lerr.Got != 5 || lerr.Want != 4 {
		t.Fatalf("unexpected mismatch error: %v", res.diags[0].Err)
	}
	if res.diags[0].Length != 5 {
		t.Fatalf("unexpected diagnostic length: %d", res.diags[0].Length)
	}
	if res.sync.State() != protocol.StateIdle {
		t.Fatalf("expected idle, got %s", res.sync.State())
	}
}

func TestSynchronizerDecodeErrorReturnsToIdle(t *testing.T) {
	// 0x09 claims eight literal bytes in a six byte frame
	res := runStream(t, scenarioConfig(), []byte{0x00, 0x09, 0x01, 0x02, 0x03, 0x04, 0x00})
	if len(res.diags) != 1 || res.diags[0].Kind != protocol.KindDecode {
		t.Fatalf("expected one decode diagnostic, got %v", res.diags)
	}
	if !errors.Is(res.diags[0].Err, protocol.ErrCobsTruncated) {
		t.Fatalf("unexpected decode cause: %v", res.diags[0].Err)
	}
	if res.sync.State() != protocol.StateIdle {
		t.Fatalf("expected idle, got %s", res.sync.State())
	}
}

func TestSynchronizerBoundedResync(t *testing.T) {
	garbage := []byte{0x13, 0x37, 0xFF, 0x42, 0x99, 0x01, 0x02}
	frame := protocol.CobsEncode([]byte{0x00, 0x10, 0x20, 0x00}, 0x00)
	stream := append(append(append([]byte{}, garbage...), 0x00), frame...)

	res := runStream(t, scenarioConfig(), stream)
	if len(res.records) != 1 {
		t.Fatalf("expected 1 record after garbage, got %d", len(res.records))
	}
	if raw := res.records[0].Raw; raw[0] != 0x0010 || raw[1] != 0x2000 {
		t.Fatalf("unexpected record: %#v", raw)
	}
	if got := res.sync.Stats().DiscardedBytes; got != uint64(len(garbage)) {
		t.Fatalf("unexpected discarded bytes: %d", got)
	}
}

func TestSynchronizerRecordsInWireOrder(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00)
	for i := 1; i <= 5; i++ {
		stream = append(stream, protocol.CobsEncode([]byte{0x00, byte(i), 0x00, byte(i * 2)}, 0x00)...)
	}
	res := runStream(t, scenarioConfig(), stream)
	if len(res.records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(res.records))
	}
	for i, rec := range res.records {
		if rec.Seq != uint64(i+1) || rec.Raw[0] != uint32(i+1) || rec.Raw[1] != uint32(2*(i+1)) {
			t.Fatalf("record %d out of order: %#v", i, rec)
		}
	}
}

func TestSynchronizerShortReads(t *testing.T) {
	stream := []byte{0x00, 0x05, 0x01, 0x02, 0x03, 0x04, 0x00}
	sync, err := protocol.NewSynchronizer(iotest.OneByteReader(bytes.NewReader(stream)), scenarioConfig())
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	var payload []byte
	for payload == nil {
		out, err := sync.Step()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		payload = out.Payload
	}
	if !bytes.Equal(payload, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("unexpected payload: % x", payload)
	}
}

func TestSynchronizerTransportErrorKeepsState(t *testing.T) {
	stream := []byte{0x00, 0x05, 0x01}
	res := runStream(t, scenarioConfig(), stream)
	var terr *protocol.TransportError
	if !errors.As(res.err, &terr) {
		t.Fatalf("expected transport error, got %v", res.err)
	}
	if !errors.Is(res.err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", res.err)
	}
	if res.sync.State() != protocol.StateFraming {
		t.Fatalf("expected framing, got %s", res.sync.State())
	}
}

func TestSynchronizerFrameAtBufferCapacity(t *testing.T) {
	cfg := scenarioConfig()
	cfg.BufferCapacity = cfg.EncodedFrameLength

	res := runStream(t, cfg, []byte{0x00, 0x05, 0x01, 0x02, 0x03, 0x04, 0x00})
	if len(res.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.records))
	}
	raw := res.records[0].Raw
	if len(raw) != 2 || raw[0] != 0x0102 || raw[1] != 0x0304 {
		t.Fatalf("unexpected record: %#v", raw)
	}
	if res.records[0].Seq != 1 {
		t.Fatalf("unexpected seq: %d", res.records[0].Seq)
	}
	if len(res.diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.diags)
	}
}

func TestNewSynchronizerRejectsSmallBuffer(t *testing.T) {
	cfg := scenarioConfig()
	cfg.BufferCapacity = 4
	if _, err := protocol.NewSynchronizer(bytes.NewReader(nil), cfg); err == nil {
		t.Fatalf("expected construction error for undersized frame buffer")
	}
}

func TestSynchronizerCustomDelimiter(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Delimiter = 0x7E
	stream := append([]byte{0x7E}, protocol.CobsEncode([]byte{0x7E, 0x00, 0x12, 0x34}, 0x7E)...)
	res := runStream(t, cfg, stream)
	if len(res.records) != 1 {
		t.Fatalf("expected 1 record, got %d (diags %v)", len(res.records), res.diags)
	}
	if raw := res.records[0].Raw; raw[0] != 0x7E00 || raw[1] != 0x1234 {
		t.Fatalf("unexpected record: %#v", raw)
	}
}
